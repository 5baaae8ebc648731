package extensions

import (
	"strings"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// registerBridgeLibrary exposes the `bridge` global. Functions are called
// with a colon, so their first argument is the library table.
func registerBridgeLibrary(r *Runtime) {
	l := r.state
	funcs := []lua.RegistryFunction{
		// log writes a message to the bridge log.
		//
		// @param message string The message to log.
		// @param level string (optional) DEBUG, INFO, WARN or ERROR. Defaults to INFO.
		{Name: "log", Function: func(l *lua.State) int {
			message := lua.CheckString(l, 2)
			level := strings.ToUpper(lua.OptString(l, 3, "INFO"))
			r.log(level, message)
			return 0
		}},
		// now returns the current UTC time in the storage timestamp layout.
		//
		// @return string The current time.
		{Name: "now", Function: func(l *lua.State) int {
			l.PushString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
			return 1
		}},
		// uuid generates a new UUIDv7 and returns it as a string.
		//
		// @return string The new UUID.
		{Name: "uuid", Function: func(l *lua.State) int {
			id, err := uuid.NewV7()
			if err != nil {
				lua.Errorf(l, "generating uuid: %s", err.Error())
				return 0
			}
			l.PushString(id.String())
			return 1
		}},
	}

	lua.NewLibrary(l, funcs)
	l.SetGlobal("bridge")

	registerSubLibrary(l, "strings", stringsLibrary())
	registerSubLibrary(l, "json", jsonLibrary())
}

func registerSubLibrary(l *lua.State, name string, funcs []lua.RegistryFunction) {
	l.Global("bridge")
	if l.IsNil(-1) {
		l.Pop(1)
		return
	}
	lua.NewLibrary(l, funcs)
	l.SetField(-2, name)
	l.Pop(1)
}

func (r *Runtime) log(level, message string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	if ce := r.logger.Check(zapLevel, message); ce != nil {
		ce.Write(zap.String("source", "lua"))
	}
	if r.onLog != nil {
		r.onLog(zapLevel.CapitalString(), message)
	}
}

// registerCustomPrint replaces print so script output reaches the bridge log.
func registerCustomPrint(r *Runtime) {
	r.state.Register("print", func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			switch {
			case l.IsString(i):
				str, _ := l.ToString(i)
				parts = append(parts, str)
			case l.IsNil(i):
				parts = append(parts, "nil")
			case l.IsBoolean(i):
				if l.ToBoolean(i) {
					parts = append(parts, "true")
				} else {
					parts = append(parts, "false")
				}
			default:
				if str, ok := lua.ToStringMeta(l, i); ok {
					parts = append(parts, str)
				} else {
					parts = append(parts, lua.TypeNameOf(l, i))
				}
			}
		}
		r.log("INFO", strings.Join(parts, "\t"))
		return 0
	})
}
