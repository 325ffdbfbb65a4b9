package fabricator

import "encoding/json"

// memberSchema is the JSON schema the model reply must satisfy.
var memberSchema = mustSchema(map[string]any{
	"title": "GroupMember",
	"type":  "object",
	"properties": map[string]any{
		"date_member_joined_group": dateProperty("Date Member Joined Group"),
		"first_name":               stringProperty("First Name"),
		"surname":                  stringProperty("Surname"),
		"birthday":                 dateProperty("Birthday"),
		"phone_number":             stringProperty("Phone Number"),
		"email":                    stringProperty("Email"),
		"address":                  stringProperty("Address"),
	},
	"required": []string{
		"date_member_joined_group",
		"first_name",
		"surname",
		"birthday",
		"phone_number",
		"email",
		"address",
	},
})

func stringProperty(title string) map[string]any {
	return map[string]any{"title": title, "type": "string"}
}

func dateProperty(title string) map[string]any {
	return map[string]any{"title": title, "type": "string", "format": "date"}
}

func mustSchema(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
