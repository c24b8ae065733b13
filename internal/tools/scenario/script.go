// Package scenario loads Lua-scripted game walkthroughs and replays
// them against the real engines over an embedded room store. Scripts
// drive rooms the way clients would and assert on the results.
package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const scriptTypeName = "scenario"

// Script is a parsed scenario: a named sequence of steps.
type Script struct {
	Name  string
	Steps []Step
}

// Step is one scripted instruction with its raw arguments.
type Step struct {
	Kind string
	Args map[string]any
}

// Load parses a Lua scenario file. The script must return the Scenario
// it built.
func Load(path string) (*Script, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	registerScriptType(state)
	registerScriptConstructor(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}

	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	script, ok := ud.(*Script)
	if !ok || script == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	if strings.TrimSpace(script.Name) == "" {
		script.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return script, nil
}

func registerScriptType(state *lua.State) {
	lua.NewMetaTable(state, scriptTypeName)
	state.NewTable()
	lua.SetFunctions(state, scriptMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScriptConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scriptConstructor, 0)
	state.SetGlobal("Scenario")
}

var scriptConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scriptNew},
}

func scriptNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	script := &Script{Name: name}
	state.PushUserData(script)
	lua.SetMetaTableNamed(state, scriptTypeName)
	return 1
}

var scriptMethods = []lua.RegistryFunction{
	{Name: "create_room", Function: scriptCreateRoom},
	{Name: "join", Function: scriptJoin},
	{Name: "leave", Function: scriptLeave},
	{Name: "roll", Function: scriptRoll},
	{Name: "move", Function: scriptMove},
	{Name: "skip", Function: scriptSkip},
	{Name: "click", Function: scriptClick},
	{Name: "cashout", Function: scriptCashout},
	{Name: "act", Function: scriptAct},
	{Name: "rig_mines", Function: scriptRigMines},
	{Name: "advance", Function: scriptAdvance},
	{Name: "tick", Function: scriptTick},
	{Name: "expect_success", Function: scriptExpectSuccess},
	{Name: "expect_error", Function: scriptExpectError},
	{Name: "expect_event", Function: scriptExpectEvent},
	{Name: "expect_turn", Function: scriptExpectTurn},
	{Name: "expect_state", Function: scriptExpectState},
	{Name: "expect_game_over", Function: scriptExpectGameOver},
	{Name: "expect_legal", Function: scriptExpectLegal},
}

func scriptCreateRoom(state *lua.State) int {
	script := checkScript(state)
	gameType := lua.CheckString(state, 2)
	data := optionalTable(state, 3)
	data["game"] = gameType
	appendStep(script, "create_room", data)
	return 0
}

func scriptJoin(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	appendStep(script, "join", map[string]any{"user": user})
	return 0
}

func scriptLeave(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	appendStep(script, "leave", map[string]any{"user": user})
	return 0
}

// roll queues a die throw. A second argument pins the face instead of
// leaving it to the seeded source.
func scriptRoll(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	data := map[string]any{"user": user, "action": "Roll"}
	if !state.IsNoneOrNil(3) {
		data["die"] = lua.CheckInteger(state, 3)
	}
	appendStep(script, "command", data)
	return 0
}

func scriptMove(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	token := lua.CheckInteger(state, 3)
	appendStep(script, "command", map[string]any{
		"user":    user,
		"action":  "Move",
		"payload": map[string]any{"tokenIndex": token},
	})
	return 0
}

func scriptSkip(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	appendStep(script, "command", map[string]any{"user": user, "action": "Skip"})
	return 0
}

func scriptClick(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	tile := lua.CheckInteger(state, 3)
	appendStep(script, "command", map[string]any{
		"user":    user,
		"action":  "Click",
		"payload": map[string]any{"tileIndex": tile},
	})
	return 0
}

func scriptCashout(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	appendStep(script, "command", map[string]any{"user": user, "action": "Cashout"})
	return 0
}

func scriptAct(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	action := lua.CheckString(state, 3)
	data := map[string]any{"user": user, "action": action}
	if payload := optionalTable(state, 4); len(payload) > 0 {
		data["payload"] = payload
	}
	appendStep(script, "command", data)
	return 0
}

func scriptRigMines(state *lua.State) int {
	script := checkScript(state)
	lua.CheckType(state, 2, lua.TypeTable)
	appendStep(script, "rig_mines", map[string]any{"tiles": luaToGo(state, 2)})
	return 0
}

func scriptAdvance(state *lua.State) int {
	script := checkScript(state)
	seconds := lua.CheckInteger(state, 2)
	appendStep(script, "advance", map[string]any{"seconds": seconds})
	return 0
}

func scriptTick(state *lua.State) int {
	script := checkScript(state)
	appendStep(script, "tick", nil)
	return 0
}

func scriptExpectSuccess(state *lua.State) int {
	script := checkScript(state)
	appendStep(script, "expect_success", nil)
	return 0
}

func scriptExpectError(state *lua.State) int {
	script := checkScript(state)
	code := lua.CheckString(state, 2)
	appendStep(script, "expect_error", map[string]any{"code": code})
	return 0
}

func scriptExpectEvent(state *lua.State) int {
	script := checkScript(state)
	name := lua.CheckString(state, 2)
	appendStep(script, "expect_event", map[string]any{"name": name})
	return 0
}

func scriptExpectTurn(state *lua.State) int {
	script := checkScript(state)
	seat := lua.CheckInteger(state, 2)
	appendStep(script, "expect_turn", map[string]any{"seat": seat})
	return 0
}

func scriptExpectState(state *lua.State) int {
	script := checkScript(state)
	key := lua.CheckString(state, 2)
	value := luaToGo(state, 3)
	appendStep(script, "expect_state", map[string]any{"key": key, "value": value})
	return 0
}

func scriptExpectGameOver(state *lua.State) int {
	script := checkScript(state)
	winner := lua.OptString(state, 2, "")
	data := map[string]any{}
	if winner != "" {
		data["winner"] = winner
	}
	appendStep(script, "expect_game_over", data)
	return 0
}

func scriptExpectLegal(state *lua.State) int {
	script := checkScript(state)
	user := lua.CheckString(state, 2)
	lua.CheckType(state, 3, lua.TypeTable)
	appendStep(script, "expect_legal", map[string]any{
		"user":    user,
		"actions": luaToGo(state, 3),
	})
	return 0
}

func checkScript(state *lua.State) *Script {
	ud := lua.CheckUserData(state, 1, scriptTypeName)
	if script, ok := ud.(*Script); ok && script != nil {
		return script
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendStep(script *Script, kind string, data map[string]any) {
	if script == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	script.Steps = append(script.Steps, Step{Kind: kind, Args: data})
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
