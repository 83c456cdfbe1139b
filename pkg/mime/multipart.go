// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package mime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

const (
	// ContentTypeMultipartRelated is the MIME type for multipart/related
	ContentTypeMultipartRelated = "multipart/related"
	// ContentTypeApplicationXML is the MIME type for XML
	ContentTypeApplicationXML = "application/xml"
	// ContentTypeSOAPXML is the MIME type for SOAP 1.2
	ContentTypeSOAPXML = "application/soap+xml"
	// ContentTypeOctetStream is the default attachment type
	ContentTypeOctetStream = "application/octet-stream"
)

// ErrPartNotFound is returned when a cid: URI names no attachment.
var ErrPartNotFound = errors.New("attachment not found")

// Message is a multipart/related message: a root XML document followed by
// attachments.
type Message struct {
	Boundary    string
	ContentType string
	StartID     string
	// Type is the media type of the root part
	Type  string
	Root  *etree.Document
	Parts []Part
}

// Part is an attachment.
type Part struct {
	ContentID       string
	ContentType     string
	ContentTransfer string
	Data            []byte
	Headers         textproto.MIMEHeader
}

// NewMessage creates a message with the given root document and attachments.
// The root part is typed application/soap+xml.
func NewMessage(root *etree.Document, parts []Part) *Message {
	return &Message{
		Boundary:    generateBoundary(),
		ContentType: ContentTypeMultipartRelated,
		StartID:     generateContentID(),
		Type:        ContentTypeSOAPXML,
		Root:        root,
		Parts:       parts,
	}
}

// NewPart creates an attachment with a generated Content-ID.
func NewPart(data []byte, contentType string) Part {
	return NewPartWithID(data, contentType, generateContentID())
}

// NewPartWithID creates an attachment with the given Content-ID.
func NewPartWithID(data []byte, contentType, contentID string) Part {
	return Part{
		ContentID:       AddContentIDBrackets(contentID),
		ContentType:     contentType,
		ContentTransfer: "binary",
		Data:            data,
		Headers:         make(textproto.MIMEHeader),
	}
}

// URI returns the cid: URI that references p.
func (p *Part) URI() string {
	return "cid:" + ContentIDWithoutBrackets(p.ContentID)
}

// Serialize writes the message and returns it with its Content-Type header.
func (m *Message) Serialize() ([]byte, string, error) {
	if m.Root == nil {
		return nil, "", fmt.Errorf("message has no root document")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(m.Boundary); err != nil {
		return nil, "", fmt.Errorf("failed to set boundary: %w", err)
	}

	rootData, err := m.Root.WriteToBytes()
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize root document: %w", err)
	}

	rootHeader := textproto.MIMEHeader{}
	rootHeader.Set("Content-Type", fmt.Sprintf("%s; charset=UTF-8", m.Type))
	rootHeader.Set("Content-Transfer-Encoding", "8bit")
	rootHeader.Set("Content-ID", AddContentIDBrackets(m.StartID))

	rootPart, err := writer.CreatePart(rootHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create root part: %w", err)
	}
	if _, err := rootPart.Write(rootData); err != nil {
		return nil, "", fmt.Errorf("failed to write root part: %w", err)
	}

	for _, part := range m.Parts {
		header := textproto.MIMEHeader{}

		contentType := part.ContentType
		if contentType == "" {
			contentType = ContentTypeOctetStream
		}
		header.Set("Content-Type", contentType)

		transferEncoding := part.ContentTransfer
		if transferEncoding == "" {
			transferEncoding = "binary"
		}
		header.Set("Content-Transfer-Encoding", transferEncoding)

		contentID := part.ContentID
		if contentID == "" {
			contentID = generateContentID()
		}
		header.Set("Content-ID", AddContentIDBrackets(contentID))

		for key, values := range part.Headers {
			if header.Get(key) != "" {
				continue
			}
			for _, value := range values {
				header.Add(key, value)
			}
		}

		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := w.Write(part.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	// start carries the Content-ID without angle brackets
	contentType := mime.FormatMediaType(m.ContentType, map[string]string{
		"boundary": m.Boundary,
		"type":     m.Type,
		"start":    ContentIDWithoutBrackets(m.StartID),
	})
	return buf.Bytes(), contentType, nil
}

// Parse reads a multipart/related message. The root part is the one named by
// the start parameter, or the first part when start is absent.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart message: %s", mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	msg := &Message{
		Boundary:    boundary,
		ContentType: mediaType,
		StartID:     params["start"],
		Type:        params["type"],
	}

	reader := multipart.NewReader(r, boundary)
	first := true
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("failed to read part data: %w", err)
		}

		contentID := part.Header.Get("Content-ID")
		isRoot := msg.Root == nil && first
		if msg.StartID != "" {
			isRoot = msg.Root == nil && normalizeContentID(msg.StartID) == normalizeContentID(contentID)
		}
		first = false

		if isRoot {
			doc := etree.NewDocument()
			if err := doc.ReadFromBytes(data); err != nil {
				return nil, fmt.Errorf("failed to parse root document: %w", err)
			}
			msg.Root = doc
			if msg.StartID == "" {
				msg.StartID = contentID
			}
			continue
		}

		msg.Parts = append(msg.Parts, Part{
			ContentID:       contentID,
			ContentType:     part.Header.Get("Content-Type"),
			ContentTransfer: part.Header.Get("Content-Transfer-Encoding"),
			Data:            data,
			Headers:         part.Header,
		})
	}

	if msg.Root == nil {
		return nil, fmt.Errorf("root document not found in message")
	}
	return msg, nil
}

// Part finds an attachment by Content-ID. Bare ids, bracketed ids and cid:
// URIs are all accepted.
func (m *Message) Part(contentID string) *Part {
	want := normalizeContentID(contentID)
	for i := range m.Parts {
		if normalizeContentID(m.Parts[i].ContentID) == want {
			return &m.Parts[i]
		}
	}
	return nil
}

// Resolve returns the data of the attachment a cid: URI points at. It lets a
// Message serve as the URI resolver of an encryption context.
func (m *Message) Resolve(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "cid:") {
		return nil, fmt.Errorf("unsupported uri %q: only cid: references are resolved", uri)
	}
	p := m.Part(uri)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, uri)
	}
	return p.Data, nil
}

// Replace swaps the data of an attachment, e.g. with the result of
// encrypting or decrypting it. It reports whether the attachment exists.
func (m *Message) Replace(contentID string, data []byte) bool {
	p := m.Part(contentID)
	if p == nil {
		return false
	}
	p.Data = data
	return true
}

// Detach moves the cipher text of an EncryptedData element into a new
// attachment and points the element at it with a CipherReference.
func (m *Message) Detach(encryptedData *etree.Element, contentType string) (*Part, error) {
	if encryptedData == nil {
		return nil, fmt.Errorf("encrypted data is nil")
	}
	cipherData := encryptedData.FindElement("./CipherData")
	if cipherData == nil {
		return nil, fmt.Errorf("%s has no CipherData", encryptedData.Tag)
	}
	value := cipherData.SelectElement("CipherValue")
	if value == nil {
		return nil, fmt.Errorf("CipherData has no CipherValue")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(value.Text()), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding CipherValue: %w", err)
	}

	m.Parts = append(m.Parts, NewPart(raw, contentType))
	part := &m.Parts[len(m.Parts)-1]

	tag := "CipherReference"
	if value.Space != "" {
		tag = value.Space + ":" + tag
	}
	cipherData.RemoveChild(value)
	cipherData.CreateElement(tag).CreateAttr("URI", part.URI())
	return part, nil
}

// ContentIDWithoutBrackets removes the angle brackets of a Content-ID.
func ContentIDWithoutBrackets(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "<")
	return strings.TrimSuffix(contentID, ">")
}

// AddContentIDBrackets adds < and > to a Content-ID if not present.
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}

func normalizeContentID(contentID string) string {
	return ContentIDWithoutBrackets(strings.TrimPrefix(contentID, "cid:"))
}

func generateContentID() string {
	return fmt.Sprintf("<%s@xmlsec.siros.org>", uuid.New().String())
}

func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}
