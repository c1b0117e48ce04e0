package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListAddMergesAliases(t *testing.T) {
	var l List

	hello := Entry{Symbol: "main.TEST_hello", Addr: 0x1000}
	assert.True(t, l.Add(Case{Name: "hello", Symbol: "TEST_hello", Entry: hello}))
	assert.True(t, l.Add(Case{Name: "crash", Symbol: "TEST_SEGV_crash", Entry: Entry{Symbol: "main.TEST_SEGV_crash"}}))
	assert.False(t, l.Add(Case{Name: "hello", Symbol: "main.TEST_hello", Entry: hello}))

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"hello", "crash"}, l.Names())
	assert.Equal(t, "TEST_hello", l.Cases()[0].Symbol)
}

func TestListAddKeepsDistinctFunctionsWithOneName(t *testing.T) {
	var l List

	assert.True(t, l.Add(Case{Name: "x", Symbol: "main.TEST_x", Entry: Entry{Symbol: "main.TEST_x"}}))
	assert.True(t, l.Add(Case{Name: "x", Symbol: "main.TEST_SEGV_x", Entry: Entry{Symbol: "main.TEST_SEGV_x"}, ExpectSegv: true}))
	assert.True(t, l.Add(Case{Name: "x", Symbol: "example.com/b.TEST_x", Entry: Entry{Symbol: "example.com/b.TEST_x"}}))

	assert.Equal(t, []string{"x", "x", "x"}, l.Names())
	assert.Equal(t, 3, l.Filter([]string{"x"}).Len())
}

func TestListCasesIsACopy(t *testing.T) {
	var l List
	l.Add(Case{Name: "hello"})

	cases := l.Cases()
	cases[0].Name = "changed"

	assert.Equal(t, []string{"hello"}, l.Names())
}

func TestListFilter(t *testing.T) {
	var l List
	for _, name := range []string{"parse_ok", "parse_bad", "render", "crash"} {
		l.Add(Case{Name: name})
	}

	assert.Equal(t, []string{"parse_ok", "parse_bad", "render", "crash"}, l.Filter(nil).Names())
	assert.Equal(t, []string{"parse_ok", "parse_bad"}, l.Filter([]string{"parse"}).Names())
	assert.Equal(t, []string{"render", "crash"}, l.Filter([]string{"crash", "rend"}).Names())
	assert.Equal(t, 0, l.Filter([]string{"nothing"}).Len())
}

func TestEntryString(t *testing.T) {
	assert.Equal(t, "main.TEST_hello@0x4a1b20", Entry{Symbol: "main.TEST_hello", Addr: 0x4a1b20}.String())
}
