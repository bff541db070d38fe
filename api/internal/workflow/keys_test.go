package workflow

import (
	"reflect"
	"testing"
)

func TestSortQuestionKeys(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "numeric groups beat string order",
			in:   []string{"2", "1a", "10", "1b"},
			want: []string{"1a", "1b", "2", "10"},
		},
		{
			name: "suffixed keys stay together",
			in:   []string{"10", "3", "1c", "2", "1a", "1b"},
			want: []string{"1a", "1b", "1c", "2", "3", "10"},
		},
		{
			name: "non-numeric keys go last",
			in:   []string{"bonus", "2", "1"},
			want: []string{"1", "2", "bonus"},
		},
		{
			name: "empty",
			in:   []string{},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := append([]string{}, tt.in...)
			sortQuestionKeys(keys)
			if !reflect.DeepEqual(keys, tt.want) {
				t.Errorf("got %v, want %v", keys, tt.want)
			}
		})
	}
}

func TestLeadingInt(t *testing.T) {
	if n, ok := leadingInt("12a"); !ok || n != 12 {
		t.Errorf("12a -> %d %v", n, ok)
	}
	if _, ok := leadingInt("abc"); ok {
		t.Error("abc should have no leading int")
	}
}
