package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"action":"answer"}`, `{"action":"answer"}`},
		{"fenced with tag", "```json\n{\"a\":[1,2]}\n```", `{"a":[1,2]}`},
		{"tilde fence", "~~~\n[1, 2]\n~~~", `[1, 2]`},
		{"prose around", `Sure! Here it is: {"q":"x"} hope that helps`, `{"q":"x"}`},
		{"braces in strings", `{"think":"use } and { freely","n":1} trailing`, `{"think":"use } and { freely","n":1}`},
		{"escaped quote", `{"s":"say \"hi\" }"}`, `{"s":"say \"hi\" }"}`},
		{"skips broken prefix", `[} then {"ok":true}`, `{"ok":true}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "no json here", `{"unterminated": 1`} {
		_, err := ExtractJSON(in)
		assert.Error(t, err, in)
	}
}
