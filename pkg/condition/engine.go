package condition

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Engine evaluates conditions against flattened payloads, caching the
// compiled program per condition fingerprint.
type Engine struct {
	programCache map[string]*vm.Program
	mu           sync.RWMutex
}

// NewEngine creates a new condition engine
func NewEngine() *Engine {
	return &Engine{
		programCache: make(map[string]*vm.Program),
	}
}

// Matches compiles (if needed) and runs the condition against the payload.
// A nil or empty condition matches everything.
func (e *Engine) Matches(c *Condition, payload map[string]interface{}) (bool, error) {
	if c.IsEmpty() {
		return true, nil
	}

	program, err := e.getProgram(c)
	if err != nil {
		return false, err
	}

	_, values := c.source()
	env := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		env[k] = v
	}
	env["payload"] = payload

	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	return ok && result, nil
}

func (e *Engine) getProgram(c *Condition) (*vm.Program, error) {
	key := c.Fingerprint()

	e.mu.RLock()
	if prog, ok := e.programCache[key]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if prog, ok := e.programCache[key]; ok {
		return prog, nil
	}

	source, _ := c.source()
	program, err := expr.Compile(source)
	if err != nil {
		return nil, err
	}

	e.programCache[key] = program
	return program, nil
}
