// Package script runs a user supplied JavaScript extensions function after
// each GraphQL execution.
package script

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dop251/goja"
	"github.com/graphql-go/graphql/language/printer"
	"go.uber.org/zap"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/auth"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/observability"
	"github.com/comfortablynumb/pmp-graphql-gateway/internal/options"
)

// FunctionName is the global the script must define.
const FunctionName = "extensions"

const defaultTimeout = time.Second

// Extensions holds a compiled script. Every call runs in a fresh runtime.
type Extensions struct {
	name    string
	program *goja.Program
	timeout time.Duration
}

// Load compiles the script at path.
func Load(path string) (*Extensions, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return New(path, string(source))
}

// New compiles source. name appears in stack traces.
func New(name, source string) (*Extensions, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	return &Extensions{name: name, program: program, timeout: defaultTimeout}, nil
}

// SetTimeout bounds a single call. Zero disables the limit.
func (e *Extensions) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Func returns the script as an options.ExtensionsFn.
func (e *Extensions) Func() options.ExtensionsFn {
	return e.Call
}

// Call runs extensions(info) and returns the object it produced, or nil
// when it returned nothing.
func (e *Extensions) Call(info options.ExtensionsInfo) (map[string]interface{}, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if err := vm.Set("console", map[string]interface{}{
		"log": func(args ...interface{}) {
			observability.Debug("Extensions script", zap.String("script", e.name), zap.Any("args", args))
		},
	}); err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			vm.Interrupt(fmt.Sprintf("script exceeded %s", e.timeout))
		})
		defer timer.Stop()
	}

	if _, err := vm.RunProgram(e.program); err != nil {
		return nil, scriptError(err)
	}

	fn, ok := goja.AssertFunction(vm.Get(FunctionName))
	if !ok {
		return nil, fmt.Errorf("script %s does not define a %s function", e.name, FunctionName)
	}

	value, err := fn(goja.Undefined(), vm.ToValue(infoObject(info)))
	if err != nil {
		return nil, scriptError(err)
	}
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}

	extensions, ok := value.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must return an object, got %s", FunctionName, value.ExportType())
	}
	return extensions, nil
}

func infoObject(info options.ExtensionsInfo) map[string]interface{} {
	obj := map[string]interface{}{
		"variables":     info.Variables,
		"operationName": info.OperationName,
	}

	if info.Document != nil {
		if printed, ok := printer.Print(info.Document).(string); ok {
			obj["document"] = printed
		}
	}

	if info.Result != nil {
		errs := make([]map[string]interface{}, 0, len(info.Result.Errors))
		for _, err := range info.Result.Errors {
			errs = append(errs, map[string]interface{}{"message": err.Message})
		}
		obj["result"] = map[string]interface{}{
			"data":   info.Result.Data,
			"errors": errs,
		}
	}

	context := map[string]interface{}{}
	if claims, ok := auth.ClaimsFrom(info.Context); ok {
		context["claims"] = map[string]interface{}(claims)
		context["subject"] = auth.Subject(info.Context)
	}
	obj["context"] = context

	return obj
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("extensions script interrupted: %v", interrupted.Value())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("extensions script failed: %s", exception.Error())
	}
	return fmt.Errorf("extensions script failed: %w", err)
}
