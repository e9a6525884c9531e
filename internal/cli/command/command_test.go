package command

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	commands := Registry()
	cases := []struct {
		line     string
		wantName Name
		wantArgs []string
		wantErr  bool
	}{
		{line: "run python ./main.py", wantName: Run, wantArgs: []string{"python", "./main.py"}},
		{line: `run c "my dir/a.c"`, wantName: Run, wantArgs: []string{"c", "my dir/a.c"}},
		{line: "WATCH T1", wantName: Watch, wantArgs: []string{"T1"}},
		{line: "quit", wantName: Exit, wantArgs: []string{}},
		{line: "run python", wantErr: true},
		{line: "health now", wantErr: true},
		{line: "compile x", wantErr: true},
		{line: `run "python`, wantErr: true},
	}
	for _, tc := range cases {
		inv, err := Parse(commands, tc.line)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.line, err)
		}
		if tc.wantErr {
			continue
		}
		if inv.Command.Name != tc.wantName || !reflect.DeepEqual(inv.Args, tc.wantArgs) {
			t.Fatalf("%q: got %s %v", tc.line, inv.Command.Name, inv.Args)
		}
	}
}

func TestSorted(t *testing.T) {
	list := Sorted(Registry())
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Fatalf("not sorted at %d: %s >= %s", i, list[i-1].Name, list[i].Name)
		}
	}
}
