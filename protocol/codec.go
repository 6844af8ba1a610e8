package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const envelopeLen = 2

func encodeEnvelope(tag uint8, body any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(envelopeLen); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(uint64(tag)); err != nil {
		return nil, err
	}
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeEnvelope reads the discriminant and hands the decoder to body,
// which decodes the variant. Trailing bytes are an error.
func decodeEnvelope(payload []byte, body func(tag uint8, dec *msgpack.Decoder) (any, error)) (any, error) {
	r := bytes.NewReader(payload)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if n != envelopeLen {
		return nil, fmt.Errorf("envelope has %d elements, want %d", n, envelopeLen)
	}
	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to decode discriminant: %w", err)
	}
	msg, err := body(tag, dec)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after message", r.Len())
	}
	return msg, nil
}

func decodeBody[T any](dec *msgpack.Decoder) (T, error) {
	var v T
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return v, nil
}

// OrchestratorCodec encodes OrchestratorMessage and decodes WorkerMessage.
// It is the orchestrator side's half of the pairing.
type OrchestratorCodec struct{}

// Encode implements ipc.Codec.
func (OrchestratorCodec) Encode(msg OrchestratorMessage) ([]byte, error) {
	return EncodeOrchestratorMessage(msg)
}

// Decode implements ipc.Codec.
func (OrchestratorCodec) Decode(payload []byte) (WorkerMessage, error) {
	return DecodeWorkerMessage(payload)
}

// WorkerCodec encodes WorkerMessage and decodes OrchestratorMessage.
type WorkerCodec struct{}

// Encode implements ipc.Codec.
func (WorkerCodec) Encode(msg WorkerMessage) ([]byte, error) {
	return EncodeWorkerMessage(msg)
}

// Decode implements ipc.Codec.
func (WorkerCodec) Decode(payload []byte) (OrchestratorMessage, error) {
	return DecodeOrchestratorMessage(payload)
}

// EncodeOrchestratorMessage encodes msg as a wire payload.
func EncodeOrchestratorMessage(msg OrchestratorMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil orchestrator message")
	}
	return encodeEnvelope(msg.orchestratorTag(), msg)
}

// DecodeOrchestratorMessage decodes a wire payload. An unknown
// discriminant is an error.
func DecodeOrchestratorMessage(payload []byte) (OrchestratorMessage, error) {
	msg, err := decodeEnvelope(payload, func(tag uint8, dec *msgpack.Decoder) (any, error) {
		switch tag {
		case tagInstallRequest:
			return decodeBody[InstallRequest](dec)
		case tagConfigureLogSink:
			return decodeBody[ConfigureLogSink](dec)
		case tagTerminate:
			return decodeBody[Terminate](dec)
		default:
			return nil, fmt.Errorf("unknown orchestrator message discriminant %d", tag)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg.(OrchestratorMessage), nil
}

// EncodeWorkerMessage encodes msg as a wire payload.
func EncodeWorkerMessage(msg WorkerMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil worker message")
	}
	return encodeEnvelope(msg.workerTag(), msg)
}

// DecodeWorkerMessage decodes a wire payload. An unknown discriminant is
// an error.
func DecodeWorkerMessage(payload []byte) (WorkerMessage, error) {
	msg, err := decodeEnvelope(payload, func(tag uint8, dec *msgpack.Decoder) (any, error) {
		switch tag {
		case tagDeviceResult:
			return decodeBody[DeviceResult](dec)
		case tagError:
			return decodeBody[Error](dec)
		case tagInstallStarted:
			return decodeBody[InstallStarted](dec)
		case tagInstallFinished:
			return decodeBody[InstallFinished](dec)
		case tagHeartbeat:
			return decodeBody[Heartbeat](dec)
		default:
			return nil, fmt.Errorf("unknown worker message discriminant %d", tag)
		}
	})
	if err != nil {
		return nil, err
	}
	return msg.(WorkerMessage), nil
}
