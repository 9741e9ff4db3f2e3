package termuxapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xiaozhiapp/termuxbridge/internal/termuxtest"
)

func TestNewLocation_ValidCombinations(t *testing.T) {
	providers := []string{"gps", "GPS", "Network", "passive"}
	requests := []string{"once", "LAST", "Updates"}

	for _, p := range providers {
		for _, r := range requests {
			t.Run(p+"/"+r, func(t *testing.T) {
				cmd, err := NewLocation(p, r)
				if err != nil {
					t.Fatalf("NewLocation(%q, %q) failed: %v", p, r, err)
				}
				if cmd.Provider() != strings.ToLower(p) {
					t.Errorf("provider = %q, want %q", cmd.Provider(), strings.ToLower(p))
				}
				if cmd.Request() != strings.ToLower(r) {
					t.Errorf("request = %q, want %q", cmd.Request(), strings.ToLower(r))
				}
			})
		}
	}
}

func TestNewLocation_ServiceDefaults(t *testing.T) {
	cmd, err := NewLocation(ProviderNetwork, RequestOnce)
	if err != nil {
		t.Fatalf("NewLocation failed: %v", err)
	}
	if cmd.Provider() != "network" || cmd.Request() != "once" {
		t.Errorf("got %s/%s, want network/once", cmd.Provider(), cmd.Request())
	}
}

func TestNewLocation_InvalidArguments(t *testing.T) {
	tests := []struct {
		provider string
		request  string
		field    string
	}{
		{"wifi", "once", "provider"},
		{"GPSS", "once", "provider"},
		{"gps", "forever", "request"},
		{"", "once", "provider"},
		{"", "", "provider"},
		{" gps", "once", "provider"},
		{"gps ", "once", "provider"},
		{"gps", "once ", "request"},
		{"gps", "once\t", "request"},
		{"gps", "", "request"},
		{"network", "UPDATE", "request"},
		{"passive", "last-known", "request"},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.request, func(t *testing.T) {
			cmd, err := NewLocation(tt.provider, tt.request)
			if cmd != nil {
				t.Errorf("expected nil command, got %+v", cmd)
			}
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("expected ArgumentError, got %v", err)
			}
			if argErr.Name != tt.field {
				t.Errorf("error names %q, want %q", argErr.Name, tt.field)
			}
		})
	}
}

func TestArgumentErrorMessage(t *testing.T) {
	_, err := NewLocation("wifi", "once")
	want := "invalid provider: wifi. Allowed: gps, network, passive"
	if err == nil || err.Error() != want {
		t.Errorf("message = %v, want %q", err, want)
	}
}

func TestLocationAccept(t *testing.T) {
	cmd := mustLocation(t)
	if cmd.Accept(Object{"status": "searching"}) {
		t.Error("status line should not be accepted")
	}
	if !cmd.Accept(Object{"latitude": 0.0}) {
		t.Error("line with latitude should be accepted")
	}
}

func TestObjectLocation(t *testing.T) {
	obj := Object{
		"latitude":          51.5,
		"longitude":         -0.12,
		"altitude":          11.0,
		"accuracy":          20.0,
		"vertical_accuracy": 3.0,
		"bearing":           90.0,
		"speed":             1.5,
		"elapsedMs":         42.0,
		"provider":          "gps",
	}
	fix, ok := obj.Location()
	if !ok {
		t.Fatal("expected a fix")
	}
	want := Fix{51.5, -0.12, 11.0, 20.0, 3.0, 90.0, 1.5, 42, "gps"}
	if fix != want {
		t.Errorf("fix = %+v, want %+v", fix, want)
	}

	if _, ok := (Object{"latitude": "north"}).Location(); ok {
		t.Error("non-numeric latitude should not decode")
	}
	if _, ok := (Object{"latitude": 1.0}).Location(); ok {
		t.Error("missing longitude should not decode")
	}
}

func TestLocate(t *testing.T) {
	srv := termuxtest.NewHoldingServer(t, termuxtest.Lines(`{"latitude":1.0,"longitude":2.0,"provider":"network"}`))

	fix, err := Locate(context.Background(), endpointFor(srv, 2*time.Second), "NETWORK", "last")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if fix.Latitude != 1.0 || fix.Longitude != 2.0 || fix.Provider != "network" {
		t.Errorf("unexpected fix %+v", fix)
	}

	req, _ := srv.WaitForRequest(time.Second)
	if !strings.Contains(req, `"provider":"network"`) || !strings.Contains(req, `"request":"last"`) {
		t.Errorf("request not normalized: %s", req)
	}
}

func TestLocate_NoNumericCoordinates(t *testing.T) {
	srv := termuxtest.NewHoldingServer(t, termuxtest.Lines(`{"latitude":null}`))

	_, err := Locate(context.Background(), endpointFor(srv, 2*time.Second), "gps", "once")
	if !errors.Is(err, ErrNoFix) {
		t.Errorf("expected ErrNoFix, got %v", err)
	}
}

func TestLocate_InvalidProviderOpensNoSocket(t *testing.T) {
	srv := termuxtest.NewHoldingServer(t)

	_, err := Locate(context.Background(), endpointFor(srv, time.Second), "bluetooth", "once")
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if _, ok := srv.WaitForRequest(100 * time.Millisecond); ok {
		t.Error("no request should reach the server for an invalid command")
	}
}
