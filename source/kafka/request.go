package kafka

import (
	"strings"

	"github.com/IBM/sarama"

	"github.com/rvesse/jena-fuseki-kafka/sink"
)

// Translate turns one raw broker message plus its headers into the dispatch
// request the engine works with. Header keys are lowercased so content-type
// routing is case-insensitive.
func Translate(msg *sarama.ConsumerMessage) Record {
	return Record{
		Offset: msg.Offset,
		Request: &sink.Request{
			Topic:   msg.Topic,
			Headers: headerMap(msg.Headers),
			Payload: msg.Value,
		},
	}
}

func headerMap(src []*sarama.RecordHeader) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for _, h := range src {
		out[strings.ToLower(string(h.Key))] = string(h.Value)
	}
	return out
}
