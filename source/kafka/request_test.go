package kafka

import (
	"testing"

	"github.com/IBM/sarama"
)

func TestTranslate(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic:  "rdf_updates",
		Offset: 42,
		Value:  []byte("<a> <b> <c> ."),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("Content-Type"), Value: []byte("text/turtle")},
			{Key: []byte("X-Provenance"), Value: []byte("ingest-1")},
		},
	}

	rec := Translate(msg)
	if rec.Offset != 42 {
		t.Fatalf("offset: want 42, got %d", rec.Offset)
	}
	if rec.Request.Topic != "rdf_updates" {
		t.Fatalf("topic: %q", rec.Request.Topic)
	}
	// Header keys are lowercased for case-insensitive routing.
	if rec.Request.ContentType() != "text/turtle" {
		t.Fatalf("content type: %q", rec.Request.ContentType())
	}
	if rec.Request.Headers["x-provenance"] != "ingest-1" {
		t.Fatalf("provenance header lost: %v", rec.Request.Headers)
	}
	if string(rec.Request.Payload) != "<a> <b> <c> ." {
		t.Fatalf("payload: %q", rec.Request.Payload)
	}
}

func TestTranslate_NoHeaders(t *testing.T) {
	rec := Translate(&sarama.ConsumerMessage{Topic: "t", Offset: 0})
	if rec.Request.ContentType() != "" {
		t.Fatalf("want empty content type, got %q", rec.Request.ContentType())
	}
}
