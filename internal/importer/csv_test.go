package importer

import (
	"errors"
	"io"
	"strings"
	"testing"

	apperrors "github.com/catalog-importer/internal/errors"
)

func TestReaderHeaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"all required", "SKU,Name,Price,Stock\n", false},
		{"with optional", "SKU,Name,Price,Stock,Description,Category,Country of Origin,Active\n", false},
		{"reordered", "Stock,Price,Name,SKU\n", false},
		{"unknown columns ignored", "SKU,Name,Price,Stock,Supplier,Internal Code\n", false},
		{"whitespace tolerated", " SKU , Name , Price , Stock \n", false},
		{"missing price", "SKU,Name,Stock\n", true},
		{"missing everything", "a,b,c\n", true},
		{"empty input", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewReader should fail")
				}
				if !apperrors.IsStream(err) {
					t.Fatalf("error %v should be a stream error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
		})
	}
}

func TestReaderMissingColumnsNamed(t *testing.T) {
	_, err := NewReader(strings.NewReader("Name,Stock\n"))
	if err == nil {
		t.Fatal("NewReader should fail")
	}
	for _, col := range []string{"SKU", "Price"} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("error %q should name missing column %s", err, col)
		}
	}
}

func TestReaderStripsBOM(t *testing.T) {
	input := "\xEF\xBB\xBFSKU,Name,Price,Stock\nA-1,Widget,9.99,5\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got := rec.Get("SKU"); got != "A-1" {
		t.Errorf("SKU = %q, want A-1", got)
	}
}

func TestReaderDelimiterSniffing(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"comma", "SKU,Name,Price,Stock\nA-1,Widget,9.99,5\n"},
		{"semicolon", "SKU;Name;Price;Stock\nA-1;Widget;9.99;5\n"},
		{"tab", "SKU\tName\tPrice\tStock\nA-1\tWidget\t9.99\t5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			rec, err := r.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if rec.Get("SKU") != "A-1" || rec.Get("Name") != "Widget" {
				t.Errorf("record = %#v, want SKU=A-1 Name=Widget", rec.Values)
			}
		})
	}
}

func TestReaderStreamsRows(t *testing.T) {
	input := "SKU,Name,Price,Stock\nA-1,Widget,9.99,5\nB-2,Gadget,19.99,0\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	var lines []int
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		lines = append(lines, rec.Line)
	}

	if len(lines) != 2 || lines[0] != 1 || lines[1] != 2 {
		t.Errorf("line numbers = %v, want [1 2]", lines)
	}
}

func TestReaderShortRow(t *testing.T) {
	// A row with fewer fields than the header yields empty values for the
	// trailing columns; the validator rejects it, the reader does not.
	input := "SKU,Name,Price,Stock\nA-1,Widget\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if rec.Get("Price") != "" || rec.Get("Stock") != "" {
		t.Errorf("missing fields should read empty, got %#v", rec.Values)
	}
}
