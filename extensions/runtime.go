package extensions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/Shopify/goluago/util"
	"github.com/worldsio/detectbridge/domain"
	"github.com/worldsio/detectbridge/events"
	"go.uber.org/zap"
)

const classifyFunction = "classify"

// DefaultBudget bounds a single classify call.
const DefaultBudget = 200 * time.Millisecond

// budgetCheckInterval is the number of VM instructions between budget checks.
const budgetCheckInterval = 1000

// restrictedGlobals are removed from every state after the base library is opened.
var restrictedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"collectgarbage",
}

// ErrBudgetExceeded is returned when classify runs past the runtime budget.
var ErrBudgetExceeded = errors.New("classify exceeded its time budget")

// ErrInvalidResult is returned when classify returns something other than nil or a table.
var ErrInvalidResult = errors.New("classify must return nil or a table")

// LogHook receives the messages a script writes through bridge:log.
type LogHook func(level, message string)

// Runtime is a Lua state loaded with one rule script. It implements
// events.Classifier and is safe for concurrent use.
type Runtime struct {
	mu     sync.Mutex
	name   string
	state  *lua.State
	logger *zap.Logger
	onLog  LogHook
	budget time.Duration
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger receiving script output.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithBudget bounds the wall time of a classify call. A zero or negative
// budget disables the bound.
func WithBudget(budget time.Duration) Option {
	return func(r *Runtime) {
		r.budget = budget
	}
}

// WithLogHook sets a hook called for every bridge:log call.
func WithLogHook(hook LogHook) Option {
	return func(r *Runtime) {
		r.onLog = hook
	}
}

var _ events.Classifier = (*Runtime)(nil)

// New prepares a sandboxed state and runs code in it. name identifies the
// script in logs and errors.
func New(name, code string, options ...Option) (*Runtime, error) {
	r := &Runtime{name: name, logger: zap.NewNop(), budget: DefaultBudget}
	for _, option := range options {
		option(r)
	}
	r.logger = r.logger.With(zap.String("script", name))

	r.state = lua.NewState()
	r.sandbox()
	registerBridgeLibrary(r)
	registerCustomPrint(r)

	if err := r.ExecuteLua(code); err != nil {
		return nil, fmt.Errorf("loading %s : %w", name, err)
	}
	return r, nil
}

// NewFromFile loads the rule script at path.
func NewFromFile(path string, options ...Option) (*Runtime, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules script : %w", err)
	}
	return New(filepath.Base(path), string(code), options...)
}

// Name returns the script name.
func (r *Runtime) Name() string {
	return r.name
}

func (r *Runtime) sandbox() {
	l := r.state
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "bit32", lua.Bit32Open, true)
	l.Pop(1)

	for _, global := range restrictedGlobals {
		l.PushNil()
		l.SetGlobal(global)
	}
}

// ExecuteLua runs code in the state. Values returned by code are left on the stack.
func (r *Runtime) ExecuteLua(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := lua.DoString(r.state, code); err != nil {
		return fmt.Errorf("executing lua : %w", err)
	}
	return nil
}

// HasClassifier reports whether the script defines classify.
func (r *Runtime) HasClassifier() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Global(classifyFunction)
	defer r.state.Pop(1)
	return r.state.IsFunction(-1)
}

// Classify calls the script's classify function with the detection. A
// missing function or a nil result yields an empty Classification, which the
// event builder completes with the default tag rules.
func (r *Runtime) Classify(detection *domain.Detection) (events.Classification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(classifyFunction)
	if !l.IsFunction(-1) {
		return events.Classification{}, nil
	}

	util.DeepPush(l, detectionTable(detection))
	exceeded := r.startBudget()
	err := l.ProtectedCall(1, 1, 0)
	lua.SetDebugHook(l, nil, 0, 0)
	if *exceeded {
		return events.Classification{}, fmt.Errorf("calling %s in %s : %w after %v", classifyFunction, r.name, ErrBudgetExceeded, r.budget)
	}
	if err != nil {
		return events.Classification{}, fmt.Errorf("calling %s in %s : %w", classifyFunction, r.name, err)
	}

	if l.IsNil(-1) {
		return events.Classification{}, nil
	}
	if !l.IsTable(-1) {
		return events.Classification{}, fmt.Errorf("%s : %w, got %s", r.name, ErrInvalidResult, lua.TypeNameOf(l, -1))
	}

	result, err := util.PullTable(l, l.AbsIndex(-1))
	if err != nil {
		return events.Classification{}, fmt.Errorf("reading classification : %w", err)
	}
	fields, ok := result.(map[string]interface{})
	if !ok {
		// Array-only tables are pulled as lists and carry no fields.
		return events.Classification{}, nil
	}
	return classification(fields)
}

// startBudget installs a count hook that raises a Lua error once the budget
// has elapsed. The returned flag reports whether it fired.
func (r *Runtime) startBudget() *bool {
	exceeded := new(bool)
	if r.budget <= 0 {
		return exceeded
	}
	deadline := time.Now().Add(r.budget)
	lua.SetDebugHook(r.state, func(l *lua.State, _ lua.Debug) {
		if time.Now().After(deadline) {
			*exceeded = true
			lua.Errorf(l, "%s", ErrBudgetExceeded.Error())
		}
	}, lua.MaskCount, budgetCheckInterval)
	return exceeded
}

func classification(fields map[string]any) (events.Classification, error) {
	var class events.Classification
	targets := map[string]*string{
		"type":        &class.Type,
		"sub_type":    &class.SubType,
		"priority":    &class.Priority,
		"description": &class.Description,
	}
	for key, target := range targets {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		str, ok := value.(string)
		if !ok {
			return events.Classification{}, fmt.Errorf("classification field %s must be a string, got %T", key, value)
		}
		*target = str
	}

	if skip, ok := fields["skip"]; ok {
		b, ok := skip.(bool)
		if !ok {
			return events.Classification{}, fmt.Errorf("classification field skip must be a boolean, got %T", skip)
		}
		class.Skip = b
	}
	class.Priority = strings.ToLower(class.Priority)
	return class, nil
}

// detectionTable is the view of a detection handed to classify.
func detectionTable(d *domain.Detection) map[string]any {
	return map[string]any{
		"device_id":       d.DeviceID,
		"device_name":     d.DeviceName,
		"track_id":        d.TrackID,
		"tag":             d.Tag,
		"timestamp":       domain.FormatTimestamp(d.Timestamp),
		"direction":       d.Direction,
		"position_type":   d.PositionType,
		"polygon_type":    d.PolygonType,
		"global_track_id": d.GlobalTrackID,
		"geofence_ids":    anySlice(d.GeofenceIDs),
		"zone_ids":        anySlice(d.ZoneIDs),
		"confidence":      events.Confidence(d),
		"metadata":        decodeJSON(d.Metadata),
	}
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
