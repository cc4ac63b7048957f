// Package transfer implements the chunked, paced and end-to-end encrypted
// transfer codec used between paired devices.
//
// A Sender serializes an item, slices it into packages of at most
// MaxPackageSize bytes and emits one package per tick, sealing each one
// just before it leaves. A Receiver reassembles packages in any arrival
// order and hands the item upward once the last one lands. The relay
// server between the two never looks inside a package.
package transfer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadType tells the receiver how to parse the assembled bytes.
type PayloadType string

const (
	TypeText     PayloadType = "text"
	TypePassword PayloadType = "password"
	TypeURL      PayloadType = "url"
	TypeDocument PayloadType = "document"
)

// Valid reports whether t is a known payload type.
func (t PayloadType) Valid() bool {
	switch t {
	case TypeText, TypePassword, TypeURL, TypeDocument:
		return true
	}
	return false
}

// Document is a file payload.
type Document struct {
	FileName string
	Data     []byte
}

// Item is one logical clipboard payload. Text carries text, password and
// url payloads; Document carries document payloads.
type Item struct {
	ID       string
	Type     PayloadType
	Text     string
	Document *Document
}

// Sealed is a ciphertext with the nonce it was sealed under, both base64.
type Sealed struct {
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
}

// Metadata travels on package 0 only.
type Metadata struct {
	FileName *Sealed `json:"fileName,omitempty"`
}

// Package is one encrypted fragment of an item, as sent on the wire.
type Package struct {
	ID            string      `json:"id"`
	Type          PayloadType `json:"type"`
	PackageNumber int         `json:"packageNumber"`
	PackageCount  int         `json:"packageCount"`
	PackageSize   int         `json:"packageSize"`
	Value         Sealed      `json:"value"`
	MetaData      *Metadata   `json:"metaData,omitempty"`
}

// Cipher seals and opens package contents for one peer.
type Cipher interface {
	Seal(plaintext []byte) (Sealed, error)
	Open(sealed Sealed) ([]byte, error)
}

var errNoPayload = errors.New("item has no payload")

type documentPayload struct {
	Data string `json:"data"`
}

// serialize returns the bytes to slice and the plaintext file name, if any.
func serialize(item *Item) ([]byte, string, error) {
	switch item.Type {
	case TypeText, TypePassword, TypeURL:
		return []byte(item.Text), "", nil
	case TypeDocument:
		if item.Document == nil {
			return nil, "", errNoPayload
		}
		b, err := json.Marshal(documentPayload{Data: base64.StdEncoding.EncodeToString(item.Document.Data)})
		if err != nil {
			return nil, "", fmt.Errorf("encode document: %w", err)
		}
		return b, item.Document.FileName, nil
	default:
		return nil, "", fmt.Errorf("unknown payload type %q", item.Type)
	}
}

// release drops the payload from the source item once it is queued.
func release(item *Item) {
	item.Text = ""
	if item.Document != nil {
		item.Document.Data = nil
	}
}

func parse(id string, typ PayloadType, raw []byte, fileName string) (*Item, error) {
	item := &Item{ID: id, Type: typ}
	switch typ {
	case TypeText, TypePassword, TypeURL:
		item.Text = string(raw)
	case TypeDocument:
		var doc documentPayload
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode document data: %w", err)
		}
		item.Document = &Document{FileName: fileName, Data: data}
	default:
		return nil, fmt.Errorf("unknown payload type %q", typ)
	}
	return item, nil
}
