package datasetid

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestFromPath(t *testing.T) {
	id1 := FromPath("/foo/bar.csv")
	id2 := FromPath("/foo/bar.csv")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, filePrefix) {
		t.Errorf("ID should have prefix %q: got %q", filePrefix, id1)
	}
	if !IsFile(id1) {
		t.Errorf("IsFile(%q) = false", id1)
	}
	if FromPath("/foo/baz.csv") == id1 {
		t.Error("different paths should give different IDs")
	}
}

func TestFromPath_normalized(t *testing.T) {
	id1 := FromPath("/foo/bar")
	if id2 := FromPath("/foo/bar/"); id1 != id2 {
		t.Errorf("paths differing only by trailing slash should match: %q vs %q", id1, id2)
	}
	if id3 := FromPath("/foo/./bar"); id1 != id3 {
		t.Errorf("paths with . should normalize: %q vs %q", id1, id3)
	}
	if id4 := FromPath(filepath.Join("/foo", "x", "..", "bar")); id1 != id4 {
		t.Errorf("paths with .. should normalize: %q vs %q", id1, id4)
	}
}

func TestFromURL(t *testing.T) {
	u := "https://airtable.com/v0.3/view/viwA?exportCSV=true"
	id := FromURL(u)
	if !strings.HasPrefix(id, urlPrefix) {
		t.Errorf("ID should have prefix %q: got %q", urlPrefix, id)
	}
	if FromURL(u+"#section") != id {
		t.Error("fragment should not change the ID")
	}
	if FromURL(" "+u+" ") != id {
		t.Error("surrounding space should not change the ID")
	}
	if FromURL("https://airtable.com/v0.3/view/viwB?exportCSV=true") == id {
		t.Error("different URLs should give different IDs")
	}
	if FromPath(u) == id {
		t.Error("path and URL IDs should not collide")
	}
	if IsFile(id) {
		t.Errorf("IsFile(%q) = true", id)
	}
}

func TestNew(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Errorf("New should be random: %q", a)
	}
	if !strings.HasPrefix(a, uploadPrefix) {
		t.Errorf("ID should have prefix %q: got %q", uploadPrefix, a)
	}
}
