package serverlink

import (
	"fmt"
	"time"

	"github.com/mindfly/brainpilot/internal/drone"
	"github.com/mindfly/brainpilot/internal/neuro"
)

// ProtocolVersion is the wire protocol version this client speaks. The
// handshake fails unless the service advertises the same version.
const ProtocolVersion = 1

const (
	frameHello   = "hello"
	frameAccept  = "accept"
	frameSample  = "sample"
	frameCommand = "command"
)

// frame is the single wire envelope for all message types. Fields are
// populated per Type; see the handshake and data frame layouts below.
//
//	hello:   protocol_version, session_id, channel_count
//	accept:  protocol_version
//	sample:  seq, ts_unix_micro, channels
//	command: seq, movement, angle, confidence
type frame struct {
	Type            string    `json:"type"`
	ProtocolVersion int       `json:"protocol_version,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	ChannelCount    int       `json:"channel_count,omitempty"`
	Seq             uint64    `json:"seq,omitempty"`
	TimestampMicro  int64     `json:"ts_unix_micro,omitempty"`
	Channels        []float64 `json:"channels,omitempty"`
	Movement        string    `json:"movement,omitempty"`
	Angle           float64   `json:"angle,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
}

func sampleFrame(s neuro.Sample) frame {
	return frame{
		Type:           frameSample,
		Seq:            s.Seq,
		TimestampMicro: s.Timestamp.UnixMicro(),
		Channels:       s.Channels,
	}
}

// decodeCommand validates and converts an inbound command frame.
func decodeCommand(f frame, now time.Time) (drone.Command, error) {
	kind, err := drone.ParseMovementKind(f.Movement)
	if err != nil {
		return drone.Command{}, err
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return drone.Command{}, fmt.Errorf("confidence %f out of range", f.Confidence)
	}

	return drone.Command{
		Seq:        f.Seq,
		Movement:   drone.Movement{Kind: kind, Angle: f.Angle},
		Confidence: f.Confidence,
		DecodedAt:  now,
	}, nil
}
