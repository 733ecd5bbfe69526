package activitypub

import "testing"

func TestObjectIRIFromBareString(t *testing.T) {
	a := Activity{Object: []byte(`"https://a.example/actor"`)}
	if got := a.ObjectIRI(); got != "https://a.example/actor" {
		t.Errorf("ObjectIRI() = %q", got)
	}
}

func TestObjectIRIFromEmbeddedObject(t *testing.T) {
	a := Activity{Object: []byte(`{"id":"https://a.example/note/1","type":"Note"}`)}
	if got := a.ObjectIRI(); got != "https://a.example/note/1" {
		t.Errorf("ObjectIRI() = %q", got)
	}
}

func TestObjectAsRef(t *testing.T) {
	a := Activity{Object: []byte(`{"id":"https://a.example/f/1","type":"Follow","actor":"https://a.example/actor","object":"https://relay.example/actor"}`)}
	ref, ok := a.ObjectAsRef()
	if !ok {
		t.Fatal("expected ObjectAsRef to succeed")
	}
	if ref.Type != TypeFollow || ref.Actor != "https://a.example/actor" || ref.Object != "https://relay.example/actor" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestObjectAsRefFalseForBareString(t *testing.T) {
	a := Activity{Object: []byte(`"https://a.example/actor"`)}
	if _, ok := a.ObjectAsRef(); ok {
		t.Error("expected ObjectAsRef to fail for a bare IRI string")
	}
}

func TestIs(t *testing.T) {
	a := Activity{Type: TypeFollow}
	if !a.Is(TypeFollow) {
		t.Error("expected Is(TypeFollow) to be true")
	}
	if a.Is(TypeUndo) {
		t.Error("expected Is(TypeUndo) to be false")
	}
}
