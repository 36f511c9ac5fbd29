package bi

import (
	"testing"
)

func TestParseMemo(t *testing.T) {
	testCases := []struct {
		name     string
		memo     string
		object   string
		wantConf int
		wantOK   bool
	}{
		{"Simple match", "person:72%", "person", 72, true},
		{"Case insensitive", "Person:61%", "person", 61, true},
		{"Embedded in text", "DS person:85% car:40%", "person", 85, true},
		{"Different object", "car:90%", "person", 0, false},
		{"Empty memo", "", "person", 0, false},
		{"No percent sign", "person:72", "person", 0, false},
		{"No confidence", "person detected", "person", 0, false},
		{"Zero confidence", "person:0%", "person", 0, true},
		{"Hundred percent", "person:100%", "person", 100, true},
		{"Empty object", "person:72%", "", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf, ok := ParseMemo(tc.memo, tc.object)
			if ok != tc.wantOK {
				t.Fatalf("ParseMemo(%q, %q) ok = %v, want %v", tc.memo, tc.object, ok, tc.wantOK)
			}
			if conf != tc.wantConf {
				t.Fatalf("ParseMemo(%q, %q) conf = %d, want %d", tc.memo, tc.object, conf, tc.wantConf)
			}
		})
	}
}

func TestParseMemoRegexMetachars(t *testing.T) {
	// Object names with regex metacharacters must be treated literally.
	if _, ok := ParseMemo("c.t:50%", "c.t"); !ok {
		t.Fatal("literal dot in object name should match")
	}
	if _, ok := ParseMemo("cat:50%", "c.t"); ok {
		t.Fatal("dot must not act as a regex wildcard")
	}
}
