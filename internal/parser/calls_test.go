package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoParser_FiltersBuiltinCalls(t *testing.T) {
	src := `package a

func Work() {
	println("x")
	len(nil)
	x := make([]int, 0)
	_ = x
	Helper()
}

func Helper() {}
`
	p := newGoParser()
	res, err := p.Parse(1, "a.go", []byte(src))
	require.NoError(t, err)

	var names []string
	for _, c := range res.Calls {
		names = append(names, c.CalleeName)
	}
	assert.Contains(t, names, "Helper")
	assert.NotContains(t, names, "println")
	assert.NotContains(t, names, "len")
	assert.NotContains(t, names, "make")
}

func TestRustParser_FiltersBuiltinMacros(t *testing.T) {
	src := `fn work() {
	println!("x");
	let v = vec![1, 2, 3];
	helper();
}

fn helper() {}
`
	p := newRustParser()
	res, err := p.Parse(1, "a.rs", []byte(src))
	require.NoError(t, err)

	var names []string
	for _, c := range res.Calls {
		names = append(names, c.CalleeName)
	}
	assert.Contains(t, names, "helper")
	assert.NotContains(t, names, "println")
	assert.NotContains(t, names, "vec")
}

func TestPythonParser_FiltersBuiltinCalls(t *testing.T) {
	src := `def work():
    print("x")
    len([1, 2])
    helper()

def helper():
    pass
`
	p := newPythonParser()
	res, err := p.Parse(1, "a.py", []byte(src))
	require.NoError(t, err)

	var names []string
	for _, c := range res.Calls {
		names = append(names, c.CalleeName)
	}
	assert.Contains(t, names, "helper")
	assert.NotContains(t, names, "print")
	assert.NotContains(t, names, "len")
}

func TestTSParser_FiltersQualifiedAndBareBuiltins(t *testing.T) {
	src := `function work() {
	console.log("x");
	parseInt("1");
	helper();
}

function helper() {}
`
	p := newTSParser()
	res, err := p.Parse(1, "a.ts", []byte(src))
	require.NoError(t, err)

	var names []string
	for _, c := range res.Calls {
		names = append(names, c.CalleeName)
	}
	assert.Contains(t, names, "helper")
	assert.NotContains(t, names, "log")
	assert.NotContains(t, names, "parseInt")
}
