package pintable

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveRPI(t *testing.T) {
	tests := []struct {
		rev     Revision
		channel int
		want    string
	}{
		{RevisionV1, 3, "0"},
		{RevisionV1, 5, "1"},
		{RevisionV1, 7, "4"},
		{RevisionV1, 13, "21"},
		{RevisionV1, 26, "7"},
		{RevisionV2, 3, "2"},
		{RevisionV2, 5, "3"},
		{RevisionV2, 7, "4"},
		{RevisionV2, 13, "27"},
		{RevisionV2, 29, "5"},
		{RevisionV2, 37, "26"},
		{RevisionV2, 40, "21"},
	}

	for _, tt := range tests {
		got, err := Resolve(tt.channel, ModeRPI, tt.rev)
		if err != nil {
			t.Errorf("%s channel %d: unexpected error: %v", tt.rev, tt.channel, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s channel %d: got %s, want %s", tt.rev, tt.channel, got, tt.want)
		}
	}
}

func TestResolveRPINotMapped(t *testing.T) {
	// power, ground and out-of-range positions
	for _, ch := range []int{0, 1, 2, 4, 6, 9, 14, 17, 20, 25, 41} {
		if _, err := Resolve(ch, ModeRPI, RevisionV2); !errors.Is(err, ErrChannelNotMapped) {
			t.Errorf("channel %d: expected ErrChannelNotMapped, got %v", ch, err)
		}
	}

	// B+ extension does not exist on V1 boards
	if _, err := Resolve(29, ModeRPI, RevisionV1); !errors.Is(err, ErrChannelNotMapped) {
		t.Errorf("V1 channel 29: expected ErrChannelNotMapped, got %v", err)
	}
}

func TestResolveBCM(t *testing.T) {
	got, err := Resolve(4, ModeBCM, RevisionV1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "4" {
		t.Errorf("got %s, want 4", got)
	}

	// 2 and 3 only exist on V2; 0 and 1 only on V1
	if _, err := Resolve(2, ModeBCM, RevisionV1); !errors.Is(err, ErrChannelNotMapped) {
		t.Errorf("V1 BCM 2: expected ErrChannelNotMapped, got %v", err)
	}
	if _, err := Resolve(2, ModeBCM, RevisionV2); err != nil {
		t.Errorf("V2 BCM 2: unexpected error: %v", err)
	}
	if _, err := Resolve(0, ModeBCM, RevisionV2); !errors.Is(err, ErrChannelNotMapped) {
		t.Errorf("V2 BCM 0: expected ErrChannelNotMapped, got %v", err)
	}
}

func TestResolveDeterministic(t *testing.T) {
	for _, rev := range []Revision{RevisionV1, RevisionV2} {
		for _, mode := range []Mode{ModeRPI, ModeBCM} {
			for ch := 0; ch <= 41; ch++ {
				a, errA := Resolve(ch, mode, rev)
				b, errB := Resolve(ch, mode, rev)
				if a != b || (errA == nil) != (errB == nil) {
					t.Errorf("%s %s channel %d: not deterministic", rev, mode, ch)
				}
			}
		}
	}
}

func TestResolveUnknownMode(t *testing.T) {
	if _, err := Resolve(7, Mode("bogus"), RevisionV2); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestValidBCMMatchesTable(t *testing.T) {
	for _, rev := range []Revision{RevisionV1, RevisionV2} {
		valid := ValidBCM(rev)
		if len(valid) != len(Channels(rev)) {
			t.Errorf("%s: %d BCM numbers for %d channels", rev, len(valid), len(Channels(rev)))
		}
		for _, bcm := range valid {
			if _, err := Resolve(bcm, ModeBCM, rev); err != nil {
				t.Errorf("%s: BCM %d in whitelist but rejected: %v", rev, bcm, err)
			}
		}
	}
}

func TestParseRevision(t *testing.T) {
	tests := []struct {
		name    string
		cpuinfo string
		want    Revision
	}{
		{"v1 rev 2", "Hardware\t: BCM2708\nRevision\t: 0002\n", RevisionV1},
		{"v1 rev 3", "Revision : 0003", RevisionV1},
		{"v2 rev 4", "Revision\t: 0004\n", RevisionV2},
		{"overvolted", "Revision\t: 1000002\n", RevisionV1},
		{"pi 3", "Revision\t: a02082\nSerial\t: 00000000", RevisionV2},
		{"pi 4", "Revision\t: c03111\n", RevisionV2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRevision(tt.cpuinfo)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseRevisionNoMatch(t *testing.T) {
	for _, in := range []string{"", "Hardware : BCM2835", "Revision : xyz"} {
		if _, err := ParseRevision(in); !errors.Is(err, ErrRevisionDetection) {
			t.Errorf("%q: expected ErrRevisionDetection, got %v", in, err)
		}
	}
}

func TestDetectRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	if err := os.WriteFile(path, []byte("processor : 0\nRevision : a22082\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rev, err := DetectRevision(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != RevisionV2 {
		t.Errorf("got %s, want v2", rev)
	}

	if _, err := DetectRevision(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
