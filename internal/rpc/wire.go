package rpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/model"
)

// Documents travel as structpb values. Timestamps use the
// {"_seconds","_nanoseconds"} shape of docstore.EncodeJSON.

func encodeData(m map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(docstore.EncodeJSON(docstore.NormalizeMap(m)).(map[string]any))
}

func decodeData(s *structpb.Struct) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	m, ok := docstore.DecodeJSON(s.AsMap()).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func field(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}

func child(s *structpb.Struct, name string) *structpb.Struct {
	if s == nil {
		return nil
	}
	return s.GetFields()[name].GetStructValue()
}

func docRequest(collection, id string, data map[string]any) (*structpb.Struct, error) {
	body, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"collection": structpb.NewStringValue(collection),
		"id":         structpb.NewStringValue(id),
		"data":       structpb.NewStructValue(body),
	}}, nil
}

func encodeDocs(docs []docstore.Document) (*structpb.Struct, error) {
	list := make([]*structpb.Value, 0, len(docs))
	for _, d := range docs {
		body, err := encodeData(d.Data)
		if err != nil {
			return nil, err
		}
		list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":   structpb.NewStringValue(d.ID),
			"data": structpb.NewStructValue(body),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"documents": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}, nil
}

func decodeDocs(s *structpb.Struct) []docstore.Document {
	vals := s.GetFields()["documents"].GetListValue().GetValues()
	out := make([]docstore.Document, 0, len(vals))
	for _, v := range vals {
		d := v.GetStructValue()
		out = append(out, docstore.Document{ID: field(d, "id"), Data: decodeData(child(d, "data"))})
	}
	return out
}

func encodeQuery(q docstore.Query) (*structpb.Struct, error) {
	filters := make([]any, len(q.Filters))
	for i, f := range q.Filters {
		filters[i] = map[string]any{
			"field": f.Field,
			"op":    string(f.Op),
			"value": docstore.EncodeJSON(docstore.Normalize(f.Value)),
		}
	}
	m := map[string]any{
		"collection": q.Collection,
		"filters":    filters,
		"limit":      q.Max,
	}
	if q.Order != nil {
		m["order"] = map[string]any{"field": q.Order.Field, "desc": q.Order.Desc}
	}
	return structpb.NewStruct(m)
}

func decodeQuery(s *structpb.Struct) (docstore.Query, error) {
	q := docstore.Collection(field(s, "collection"))
	for _, v := range s.GetFields()["filters"].GetListValue().GetValues() {
		f := v.GetStructValue()
		var val any
		if raw := f.GetFields()["value"]; raw != nil {
			val = docstore.DecodeJSON(raw.AsInterface())
		}
		q = q.Where(field(f, "field"), docstore.Op(field(f, "op")), val)
	}
	if o := child(s, "order"); o != nil {
		q = q.OrderBy(field(o, "field"), o.GetFields()["desc"].GetBoolValue())
	}
	q = q.Limit(int(s.GetFields()["limit"].GetNumberValue()))
	if err := q.Validate(); err != nil {
		return docstore.Query{}, err
	}
	return q, nil
}

func encodeIdentity(id identity.Identity) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"uid":   structpb.NewStringValue(id.UID),
		"email": structpb.NewStringValue(id.Email),
		"name":  structpb.NewStringValue(id.Name),
		"role":  structpb.NewStringValue(string(id.Role)),
		"token": structpb.NewStringValue(id.Token),
	}}
}

func decodeIdentity(s *structpb.Struct) identity.Identity {
	return identity.Identity{
		UID:   field(s, "uid"),
		Email: field(s, "email"),
		Name:  field(s, "name"),
		Role:  model.Role(field(s, "role")),
		Token: field(s, "token"),
	}
}

func encodeSignUp(req identity.SignUpRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"email":    structpb.NewStringValue(req.Email),
		"password": structpb.NewStringValue(req.Password),
		"name":     structpb.NewStringValue(req.Name),
		"phone":    structpb.NewStringValue(req.Phone),
		"role":     structpb.NewStringValue(string(req.Role)),
	}}
}

func decodeSignUp(s *structpb.Struct) identity.SignUpRequest {
	return identity.SignUpRequest{
		Email:    field(s, "email"),
		Password: field(s, "password"),
		Name:     field(s, "name"),
		Phone:    field(s, "phone"),
		Role:     model.Role(field(s, "role")),
	}
}

func mustCollection(s *structpb.Struct) (string, error) {
	c := field(s, "collection")
	if c == "" {
		return "", fmt.Errorf("collection required")
	}
	return c, nil
}
