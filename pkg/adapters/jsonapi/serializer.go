// Package jsonapi decodes JSON:API-shaped payloads into the normalized
// document shape the core consumes. It is one serialization strategy among
// possible others (REST, plain JSON); the core never learns which one
// produced a document.
package jsonapi

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/aretw0/strata/pkg/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type rawDocument struct {
	Data     jsoniter.RawMessage `json:"data"`
	Included []rawResource       `json:"included"`
}

type rawResource struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id"`
	Lid           string                     `json:"lid"`
	Attributes    map[string]any             `json:"attributes"`
	Relationships map[string]rawRelationship `json:"relationships"`
}

type rawRelationship struct {
	// Data stays raw so "absent" and "null" remain distinguishable.
	Data  jsoniter.RawMessage `json:"data"`
	Links map[string]string   `json:"links"`
	Meta  map[string]any      `json:"meta"`
}

type rawLinkage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Lid  string `json:"lid"`
}

// Decode parses a JSON:API payload into a normalized document.
func Decode(data []byte) (core.Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.Document{}, fmt.Errorf("failed to parse document: %w", err)
	}

	var doc core.Document
	switch classify(raw.Data) {
	case kindAbsent, kindNull:
		// data: null (or a meta-only document); no primary resources.
	case kindArray:
		var resources []rawResource
		if err := json.Unmarshal(raw.Data, &resources); err != nil {
			return core.Document{}, fmt.Errorf("failed to parse primary data: %w", err)
		}
		doc.Many = make([]core.Resource, 0, len(resources))
		for _, res := range resources {
			converted, err := convertResource(res)
			if err != nil {
				return core.Document{}, err
			}
			doc.Many = append(doc.Many, converted)
		}
	default:
		var res rawResource
		if err := json.Unmarshal(raw.Data, &res); err != nil {
			return core.Document{}, fmt.Errorf("failed to parse primary data: %w", err)
		}
		converted, err := convertResource(res)
		if err != nil {
			return core.Document{}, err
		}
		doc.One = &converted
	}

	for _, res := range raw.Included {
		converted, err := convertResource(res)
		if err != nil {
			return core.Document{}, err
		}
		doc.Included = append(doc.Included, converted)
	}
	return doc, nil
}

func convertResource(raw rawResource) (core.Resource, error) {
	if raw.Type == "" {
		return core.Resource{}, fmt.Errorf("resource object without a type")
	}

	res := core.Resource{
		Type:       raw.Type,
		ID:         raw.ID,
		Lid:        raw.Lid,
		Attributes: raw.Attributes,
	}
	if len(raw.Relationships) > 0 {
		res.Relationships = make(map[string]core.RelationshipPayload, len(raw.Relationships))
		for field, rel := range raw.Relationships {
			payload, err := convertRelationship(rel)
			if err != nil {
				return core.Resource{}, fmt.Errorf("relationship %q: %w", field, err)
			}
			res.Relationships[field] = payload
		}
	}
	return res, nil
}

func convertRelationship(raw rawRelationship) (core.RelationshipPayload, error) {
	payload := core.RelationshipPayload{
		Links: raw.Links,
		Meta:  raw.Meta,
	}

	switch classify(raw.Data) {
	case kindAbsent:
		// The server didn't include linkage; leave the edge untouched.
	case kindNull:
		payload.HasData = true
	case kindArray:
		payload.HasData = true
		payload.ToMany = true
		var linkages []rawLinkage
		if err := json.Unmarshal(raw.Data, &linkages); err != nil {
			return core.RelationshipPayload{}, err
		}
		payload.Many = make([]core.Linkage, 0, len(linkages))
		for _, l := range linkages {
			payload.Many = append(payload.Many, core.Linkage{Type: l.Type, ID: l.ID, Lid: l.Lid})
		}
	default:
		payload.HasData = true
		var l rawLinkage
		if err := json.Unmarshal(raw.Data, &l); err != nil {
			return core.RelationshipPayload{}, err
		}
		payload.One = &core.Linkage{Type: l.Type, ID: l.ID, Lid: l.Lid}
	}
	return payload, nil
}

type dataKind int

const (
	kindAbsent dataKind = iota
	kindNull
	kindObject
	kindArray
)

func classify(raw jsoniter.RawMessage) dataKind {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return kindAbsent
	case bytes.Equal(trimmed, []byte("null")):
		return kindNull
	case trimmed[0] == '[':
		return kindArray
	default:
		return kindObject
	}
}
