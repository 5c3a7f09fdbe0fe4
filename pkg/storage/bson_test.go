package storage_test

import (
	"testing"

	"github.com/maxBogovick/relmem/pkg/storage"
)

func TestJsonToBson_BsonToJson_RoundTrip(t *testing.T) {
	orig := `{"id": 1, "name": "ana", "active": true}`
	doc, err := storage.JsonToBson(orig)
	if err != nil {
		t.Fatalf("JsonToBson: %v", err)
	}

	raw, err := storage.MarshalBson(doc)
	if err != nil {
		t.Fatalf("MarshalBson: %v", err)
	}

	back, err := storage.BsonToJson(raw)
	if err != nil {
		t.Fatalf("BsonToJson: %v", err)
	}
	if back == "" {
		t.Fatal("expected non-empty JSON output")
	}
}

func TestDoesTheKeyExist_DetectsEachDataType(t *testing.T) {
	doc, err := storage.JsonToBson(`{"id": 1, "name": "ana", "active": true, "score": 2.5}`)
	if err != nil {
		t.Fatalf("JsonToBson: %v", err)
	}

	cases := []struct {
		key      string
		wantType storage.DataType
	}{
		{"id", storage.TypeInt},
		{"name", storage.TypeVarchar},
		{"active", storage.TypeBoolean},
		{"score", storage.TypeFloat},
	}
	for _, c := range cases {
		found, dt := storage.DoesTheKeyExist(doc, c.key)
		if !found {
			t.Fatalf("expected key %q to exist", c.key)
		}
		if dt != c.wantType {
			t.Fatalf("key %q: expected type %v, got %v", c.key, c.wantType, dt)
		}
	}

	if found, _ := storage.DoesTheKeyExist(doc, "missing"); found {
		t.Fatal("expected missing key to report not found")
	}
}

func TestGetValueFromBson_ExtractsTypedValues(t *testing.T) {
	doc, err := storage.JsonToBson(`{"id": 7, "name": "bia", "active": false, "score": 1.5}`)
	if err != nil {
		t.Fatalf("JsonToBson: %v", err)
	}

	idVal, err := storage.GetValueFromBson(doc, "id")
	if err != nil || idVal.Int() != 7 {
		t.Fatalf("id: val=%v err=%v", idVal, err)
	}
	nameVal, err := storage.GetValueFromBson(doc, "name")
	if err != nil || nameVal.Text() != "bia" {
		t.Fatalf("name: val=%v err=%v", nameVal, err)
	}
	activeVal, err := storage.GetValueFromBson(doc, "active")
	if err != nil || activeVal.Bool() != false {
		t.Fatalf("active: val=%v err=%v", activeVal, err)
	}
	scoreVal, err := storage.GetValueFromBson(doc, "score")
	if err != nil || scoreVal.Float64() != 1.5 {
		t.Fatalf("score: val=%v err=%v", scoreVal, err)
	}

	if _, err := storage.GetValueFromBson(doc, "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
