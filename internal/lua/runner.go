package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/opentalon/hybridflow/internal/state"
)

// LoadMigrator checks that the Lua script at scriptPath defines a global
// migrate(record, from_version, to_version) function and returns a
// state.Migrator that calls it. The function returns the upgraded record
// table, or nil to discard the session.
func LoadMigrator(scriptPath string) (state.Migrator, error) {
	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	lState := newState()
	defer lState.Close()
	if _, err := lookupMigrate(lState, absPath); err != nil {
		return nil, err
	}
	return func(record map[string]any) (map[string]any, error) {
		return RunMigration(absPath, record)
	}, nil
}

// RunMigration runs migrate() from the script at scriptPath on record. Each
// call gets a fresh interpreter.
func RunMigration(scriptPath string, record map[string]any) (map[string]any, error) {
	lState := newState()
	defer lState.Close()

	fn, err := lookupMigrate(lState, scriptPath)
	if err != nil {
		return nil, err
	}
	from, _ := record["version"].(string)

	lState.Push(fn)
	lState.Push(toLua(lState, record))
	lState.Push(lua.LString(from))
	lState.Push(lua.LString(state.SchemaVersion))
	if err := lState.PCall(3, 1, nil); err != nil {
		return nil, fmt.Errorf("migrate(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTNil:
		return nil, nil
	case lua.LTTable:
		out, ok := fromLua(ret).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("migrate() must return a record table, got an array")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("migrate() must return a table or nil, got %s", ret.Type().String())
	}
}

func newState() *lua.LState {
	lState := lua.NewState()
	// Allow os.getenv so scripts can read env vars.
	lState.PreloadModule("os", osModuleLoader)
	return lState
}

func lookupMigrate(lState *lua.LState, scriptPath string) (lua.LValue, error) {
	if err := lState.DoFile(scriptPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	fn := lState.GetGlobal("migrate")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function migrate(record, from_version, to_version)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("migrate must be a function, got %s", fn.Type().String())
	}
	return fn, nil
}

// toLua converts JSON-shaped Go values into Lua values. Slices become
// 1-based array tables.
func toLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		tbl := lState.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLua(lState, item))
		}
		return tbl
	case []any:
		tbl := lState.NewTable()
		for _, item := range val {
			tbl.Append(toLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value back. A table whose keys are exactly 1..n
// becomes a slice; any other table becomes a map keyed by the string form
// of its keys.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == countKeys(val) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLua(item)
		})
		return out
	default:
		return nil
	}
}

func countKeys(tbl *lua.LTable) int {
	n := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := os.Getenv(key)
		ls.Push(lua.LString(val))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
