// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Server  string        `json:"serverUrl" validate:"required,httpurl"`
	Format  string        `koanf:"format" validate:"oneof=json console"`
	Name    string        `json:"name" validate:"min=2"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	s := sample{Server: "https://sync.example.com", Format: "json", Name: "tv", Timeout: time.Second}
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("ValidateStruct() = %v", err)
	}
}

func TestValidateStruct_FieldNamesFromTags(t *testing.T) {
	s := sample{Server: "ftp://files.example.com", Format: "xml", Name: "x"}
	err := ValidateStruct(&s)

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want *Error", err)
	}

	got := map[string]string{}
	for _, f := range verr.Fields {
		got[f.Field] = f.Tag
	}
	want := map[string]string{
		"serverUrl": "httpurl",
		"format":    "oneof",
		"name":      "min",
		"timeout":   "gt",
	}
	for field, tag := range want {
		if got[field] != tag {
			t.Errorf("field %s: tag = %q, want %q (all: %v)", field, got[field], tag, got)
		}
	}
	if !strings.Contains(err.Error(), "serverUrl must be an http or https URL") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestHTTPURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://localhost:3000", true},
		{"https://sync.example.com/base", true},
		{"ws://localhost:3000", false},
		{"localhost:3000", false},
		{"https://", false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&struct {
			U string `validate:"httpurl"`
		}{tt.in})
		if (err == nil) != tt.want {
			t.Errorf("httpurl(%q) valid = %v, want %v", tt.in, err == nil, tt.want)
		}
	}
}
