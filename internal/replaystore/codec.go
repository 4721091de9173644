package replaystore

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/session-replay/internal/replay"
)

// EventCodec сериализует батчи событий в компактный вид для Badger и
// Redis-кэша. Формат: JSON-массив исходных payload'ов, сжатый zstd.
type EventCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewEventCodec создаёт кодек. Encoder/Decoder конкурентно-безопасны
// при использовании EncodeAll/DecodeAll.
func NewEventCodec() (*EventCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}
	return &EventCodec{encoder: encoder, decoder: decoder}, nil
}

// Encode сжимает батч событий
func (c *EventCodec) Encode(events []replay.ReplayEvent) ([]byte, error) {
	raw := make([]json.RawMessage, len(events))
	for i, ev := range events {
		if len(ev.Payload) > 0 {
			raw[i] = ev.Payload
			continue
		}
		blob, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации события %d: %w", i, err)
		}
		raw[i] = blob
	}

	plain, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации батча: %w", err)
	}
	return c.encoder.EncodeAll(plain, nil), nil
}

// Decode распаковывает батч событий
func (c *EventCodec) Decode(data []byte) ([]replay.ReplayEvent, error) {
	plain, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки батча: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(plain, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора батча: %w", err)
	}
	return replay.DecodeEvents(raw)
}

// Close освобождает ресурсы кодека
func (c *EventCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
