package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/stats"
)

type deliveryMode int

const (
	deliverToOthers deliveryMode = iota // every member except the sender
	deliverToAll                        // every member, including the sender
	deliverToSender                     // the sender only (direct reply)
)

type dispatch struct {
	mode    deliveryMode
	payload []byte
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}

// resolveTs returns frame.Ts if present and numeric, otherwise server wall
// time. Ts is decoded raw precisely so a missing or non-numeric value both
// fall through to this default instead of one of them failing decode of
// the entire frame.
func resolveTs(ts json.RawMessage) float64 {
	if len(ts) == 0 {
		return nowMillis()
	}
	var f float64
	if err := json.Unmarshal(ts, &f); err != nil {
		return nowMillis()
	}
	return f
}

// plaintextOnly reports whether msgType may only be relayed in a room that
// does not require encryption.
func plaintextOnly(msgType string) bool {
	switch msgType {
	case "state", "chat", "typing":
		return true
	default:
		return false
	}
}

// route decodes raw as an InboundFrame, applies the message policy table, and
// returns the dispatch instructions for the caller to execute. It never
// touches the socket directly; side effects beyond the return value are
// limited to updating the room's advertised state, the optional mirror,
// and the policy-violation counter.
func route(c *connHandle, room *Room, raw []byte) []dispatch {
	var in InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		return nil
	}

	enc := room.encryptionRequired
	if plaintextOnly(in.Type) && enc {
		c.noteViolation()
		return nil
	}

	from, fromID := c.identity.Name, c.identity.Sub

	switch in.Type {
	case "ping":
		return []dispatch{{mode: deliverToSender, payload: mustMarshal(OutboundFrame{Type: "pong"})}}

	case "pong":
		return nil

	case "key-exchange":
		if isBlank(in.PublicKey) {
			c.noteViolation()
			return nil
		}
		out := OutboundFrame{
			Type:      "key-exchange",
			PublicKey: in.PublicKey,
			Curve:     in.Curve,
			From:      &from,
			FromID:    &fromID,
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "encrypted":
		if isBlank(in.Ciphertext) || isBlank(in.IV) {
			c.noteViolation()
			return nil
		}
		ts := resolveTs(in.Ts)
		out := OutboundFrame{
			Type:        "encrypted",
			Ciphertext:  in.Ciphertext,
			IV:          in.IV,
			Tag:         in.Tag,
			Salt:        in.Salt,
			Alg:         in.Alg,
			RecipientID: in.RecipientID,
			From:        &from,
			FromID:      &fromID,
			Ts:          ts,
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "system":
		if isBlank(in.Text) {
			c.noteViolation()
			return nil
		}
		out := OutboundFrame{
			Type: "system",
			Text: in.Text,
			Ts:   resolveTs(in.Ts),
			URL:  in.URL,
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "episode-changed":
		if isBlank(in.URL) {
			c.noteViolation()
			return nil
		}
		room.updateEpisode(*in.URL, derefStr(in.Title))
		out := OutboundFrame{
			Type:   "episode-changed",
			URL:    in.URL,
			Ts:     resolveTs(in.Ts),
			Seq:    in.Seq,
			Title:  in.Title,
			From:   &from,
			FromID: &fromID,
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "sync-request":
		out := OutboundFrame{
			Type:   "sync-request",
			From:   &from,
			FromID: &fromID,
			Ts:     resolveTs(in.Ts),
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "sync-state":
		if isBlank(in.URL) {
			c.noteViolation()
			return nil
		}
		t := 0.0
		if in.Time != nil {
			t = *in.Time
		}
		paused := false
		if in.Paused != nil {
			paused = *in.Paused
		}

		room.updateSyncState(*in.URL, t)
		if c.hub != nil && c.hub.mirror != nil {
			ctx, cancel := context.WithTimeout(context.Background(), mirror.DefaultTimeout)
			if err := c.hub.mirror.SaveState(ctx, room.id, *in.URL, t); err != nil {
				c.log.Printf("router: mirror save state %q: %v", room.id, err)
			}
			cancel()
		}

		out := OutboundFrame{
			Type:   "sync-state",
			Time:   &t,
			Paused: &paused,
			URL:    in.URL,
			From:   &from,
			FromID: &fromID,
			Ts:     resolveTs(in.Ts),
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "state":
		if len(in.Payload) == 0 {
			c.noteViolation()
			return nil
		}
		out := OutboundFrame{Type: "state", Payload: in.Payload}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	case "chat":
		if isBlank(in.Text) {
			c.noteViolation()
			return nil
		}
		var avatar *string
		if c.identity.Picture != "" {
			p := c.identity.Picture
			avatar = &p
		}
		out := OutboundFrame{
			Type:   "chat",
			Text:   in.Text,
			From:   &from,
			FromID: &fromID,
			Avatar: avatar,
			Ts:     resolveTs(in.Ts),
		}
		return []dispatch{{mode: deliverToAll, payload: mustMarshal(out)}}

	case "typing":
		active := false
		if in.Active != nil {
			active = *in.Active
		}
		out := OutboundFrame{
			Type:   "typing",
			From:   &from,
			FromID: &fromID,
			Active: &active,
			Ts:     resolveTs(in.Ts),
		}
		return []dispatch{{mode: deliverToOthers, payload: mustMarshal(out)}}

	default:
		// unknown tag: dropped silently.
		return nil
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// noteViolation increments the policy-violation counter, if stats are
// wired. The sender never learns that their frame was dropped.
func (c *connHandle) noteViolation() {
	if c.stats != nil {
		c.stats.Incr(stats.PolicyViolations)
	}
}
