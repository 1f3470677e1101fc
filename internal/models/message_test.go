package models

import (
	"strings"
	"testing"
)

func TestBeforeOrdersByTimestampThenID(t *testing.T) {
	a := Message{ID: "01B", Timestamp: 100}
	b := Message{ID: "01A", Timestamp: 200}
	if !a.Before(&b) {
		t.Fatal("older timestamp must sort first regardless of id")
	}
	if b.Before(&a) {
		t.Fatal("ordering must be antisymmetric")
	}

	// Same millisecond: the id breaks the tie.
	c := Message{ID: "01A", Timestamp: 100}
	d := Message{ID: "01B", Timestamp: 100}
	if !c.Before(&d) {
		t.Fatal("same-timestamp messages must tie-break on id")
	}
	if d.Before(&c) {
		t.Fatal("tie-break must be strict")
	}

	// A message never sorts before itself.
	if a.Before(&a) {
		t.Fatal("Before must be irreflexive")
	}
}

func TestNewTempID(t *testing.T) {
	id1 := NewTempID()
	id2 := NewTempID()
	if !strings.HasPrefix(id1, TempIDPrefix) {
		t.Fatalf("temp id %q lacks prefix", id1)
	}
	if id1 == id2 {
		t.Fatal("temp ids must be unique")
	}
}

func TestProvisional(t *testing.T) {
	tmp := Message{ID: NewTempID()}
	if !tmp.Provisional() {
		t.Fatal("tmp- id must be provisional")
	}
	srv := Message{ID: "01HZXW8K3V9Q4R5T6Y7U8I9O0P"}
	if srv.Provisional() {
		t.Fatal("server ULID must not be provisional")
	}
}
