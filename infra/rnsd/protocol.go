package rnsd

import (
	"encoding/hex"
	"time"

	"meshnode"
)

// Bridge commands, written one JSON object per line to the bridge's stdin.
const (
	opAnnounce    = "announce"
	opRequestPath = "request_path"
	opRemember    = "remember"
	opIdentity    = "identity"
	opShutdown    = "shutdown"
)

// Bridge events, read one JSON object per line from the bridge's stdout.
const (
	evReady    = "ready"
	evMessage  = "message"
	evAnnounce = "announce"
	evError    = "error"
)

type command struct {
	Op string `json:"op"`

	Identity      string `json:"identity,omitempty"`
	Destination   string `json:"destination,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	EncryptionKey string `json:"encryption_key,omitempty"`
	SigningSeed   string `json:"signing_seed,omitempty"`
	PublicKey     []byte `json:"public_key,omitempty"`
	AppData       []byte `json:"app_data,omitempty"`
	Aspect        string `json:"aspect,omitempty"`
}

type event struct {
	Type string `json:"type"`

	Interfaces []string      `json:"interfaces,omitempty"`
	Message    *wireMessage  `json:"message,omitempty"`
	Announce   *wireAnnounce `json:"announce,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type wireMessage struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Hops        int     `json:"hops"`
	Timestamp   float64 `json:"timestamp"`
}

type wireAnnounce struct {
	Destination string  `json:"destination"`
	Identity    string  `json:"identity"`
	PublicKey   []byte  `json:"public_key"`
	Aspect      string  `json:"aspect"`
	AppData     []byte  `json:"app_data"`
	Hops        int     `json:"hops"`
	Interface   string  `json:"interface"`
	Timestamp   float64 `json:"timestamp"`
}

func (m wireMessage) toMessage(now time.Time) meshnode.Message {
	return meshnode.Message{
		ID:              m.ID,
		SourceHash:      m.Source,
		DestinationHash: m.Destination,
		Title:           m.Title,
		Content:         m.Content,
		Hops:            m.Hops,
		ReceivedAt:      fromUnix(m.Timestamp, now),
	}
}

func (a wireAnnounce) toAnnounce(now time.Time) meshnode.Announce {
	return meshnode.Announce{
		DestinationHash: a.Destination,
		IdentityHash:    a.Identity,
		PublicKey:       a.PublicKey,
		Aspect:          a.Aspect,
		AppData:         a.AppData,
		Hops:            a.Hops,
		Interface:       a.Interface,
		ReceivedAt:      fromUnix(a.Timestamp, now),
	}
}

// fromUnix converts fractional unix seconds; zero means now.
func fromUnix(ts float64, now time.Time) time.Time {
	if ts <= 0 {
		return now.UTC()
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

func identityCommand(id meshnode.Identity) command {
	return command{
		Op:            opIdentity,
		Identity:      id.Hash,
		DisplayName:   id.DisplayName,
		EncryptionKey: id.EncryptionKey.String(),
		SigningSeed:   hex.EncodeToString(id.SigningSeed),
	}
}

func rememberPeer(p meshnode.PeerIdentity) command {
	return command{Op: opRemember, Identity: p.Hash, PublicKey: p.PublicKey, DisplayName: p.DisplayName}
}

func rememberAnnounce(a meshnode.Announce) command {
	return command{
		Op:          opRemember,
		Identity:    a.IdentityHash,
		Destination: a.DestinationHash,
		PublicKey:   a.PublicKey,
		AppData:     a.AppData,
		Aspect:      a.Aspect,
	}
}
