package domain

import (
	"errors"
	"testing"
)

func TestPartsHas(t *testing.T) {
	tests := []struct {
		name string
		set  Parts
		p    Parts
		want bool
	}{
		{"base in all", PartsAll, PartsBase, true},
		{"aux in all", PartsAll, PartsAuxiliary, true},
		{"all in all", PartsAll, PartsAll, true},
		{"aux not in base", PartsBase, PartsAuxiliary, false},
		{"all not in base", PartsBase, PartsAll, false},
		{"none never present", PartsAll, PartsNone, false},
		{"nothing in none", PartsNone, PartsBase, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Has(tt.p); got != tt.want {
				t.Errorf("%v.Has(%v) = %v, want %v", tt.set, tt.p, got, tt.want)
			}
		})
	}
}

func TestPartsAddRemove(t *testing.T) {
	s := PartsNone.Add(PartsBase)
	if s != PartsBase {
		t.Errorf("Add(PartsBase) = %v, want %v", s, PartsBase)
	}
	s = s.Add(PartsAuxiliary)
	if s != PartsAll {
		t.Errorf("Add(PartsAuxiliary) = %v, want %v", s, PartsAll)
	}
	s = s.Remove(PartsBase)
	if s != PartsAuxiliary {
		t.Errorf("Remove(PartsBase) = %v, want %v", s, PartsAuxiliary)
	}
	if s.Remove(PartsAuxiliary) != PartsNone {
		t.Error("removing the last part should leave the empty set")
	}
}

func TestPartsCascade(t *testing.T) {
	tests := []struct {
		name string
		set  Parts
		want Parts
	}{
		{"base pulls auxiliary in", PartsBase, PartsAll},
		{"auxiliary alone stays", PartsAuxiliary, PartsAuxiliary},
		{"all stays all", PartsAll, PartsAll},
		{"none stays none", PartsNone, PartsNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Cascade(); got != tt.want {
				t.Errorf("%v.Cascade() = %v, want %v", tt.set, got, tt.want)
			}
		})
	}
}

func TestPartsValidOnDisk(t *testing.T) {
	if PartsAuxiliary.ValidOnDisk() {
		t.Error("auxiliary without base must not be valid on disk")
	}
	for _, s := range []Parts{PartsNone, PartsBase, PartsAll} {
		if !s.ValidOnDisk() {
			t.Errorf("%v.ValidOnDisk() = false, want true", s)
		}
	}
}

func TestPartsSplitOrder(t *testing.T) {
	split := PartsAll.Split()
	if len(split) != 2 || split[0] != PartsBase || split[1] != PartsAuxiliary {
		t.Errorf("PartsAll.Split() = %v, want [base auxiliary]", split)
	}
	if got := PartsNone.Split(); len(got) != 0 {
		t.Errorf("PartsNone.Split() = %v, want empty", got)
	}
}

func TestParseParts(t *testing.T) {
	tests := []struct {
		in      string
		want    Parts
		wantErr bool
	}{
		{"base", PartsBase, false},
		{"auxiliary", PartsAuxiliary, false},
		{"aux", PartsAuxiliary, false},
		{"base+auxiliary", PartsAll, false},
		{"base,aux", PartsAll, false},
		{"all", PartsAll, false},
		{"Base", PartsBase, false},
		{"", PartsNone, true},
		{"routing", PartsNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseParts(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseParts(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParts) {
				t.Errorf("ParseParts(%q) error = %v, want ErrInvalidParts", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseParts(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPartsRoundTrip(t *testing.T) {
	for _, s := range []Parts{PartsBase, PartsAuxiliary, PartsAll} {
		got, err := ParseParts(s.String())
		if err != nil {
			t.Fatalf("ParseParts(%q) error = %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseParts(%q) = %v, want %v", s.String(), got, s)
		}
	}
}
