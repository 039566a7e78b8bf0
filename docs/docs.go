// Package docs holds the OpenAPI description served at /swagger. It follows
// the layout swag init produces; regenerate it with
// `swag init -g cmd/server/main.go` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/chatrooms": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "List chatrooms",
                "operationId": "listChatrooms",
                "parameters": [
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListChatroomsResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Create a chatroom",
                "operationId": "createChatroom",
                "parameters": [
                    {"description": "Chatroom and initial roster", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateChatroomRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Chatroom"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Name taken", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatrooms/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Get a chatroom with its roster",
                "operationId": "getChatroom",
                "parameters": [{"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Chatroom"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["Chatrooms"],
                "summary": "Delete a chatroom and its history",
                "operationId": "deleteChatroom",
                "parameters": [{"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatrooms/{name}/name": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Rename a chatroom",
                "operationId": "renameChatroom",
                "parameters": [
                    {"type": "string", "description": "Current chatroom name", "name": "name", "in": "path", "required": true},
                    {"description": "New name", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RenameChatroomRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Chatroom"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatrooms/{name}/avatar": {
            "put": {
                "consumes": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Set or clear a chatroom avatar",
                "operationId": "setChatroomAvatar",
                "parameters": [
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"description": "Avatar URL", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SetAvatarRequest"}}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/chatrooms/{name}/participants": {
            "post": {
                "consumes": ["application/json"],
                "tags": ["Chatrooms"],
                "summary": "Add a member to a chatroom",
                "operationId": "addParticipant",
                "parameters": [
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"description": "Member", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ParticipantInput"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Already a member", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatrooms/{name}/participants/{user_id}": {
            "delete": {
                "tags": ["Chatrooms"],
                "summary": "Remove a member from a chatroom",
                "operationId": "removeParticipant",
                "parameters": [
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "description": "Member identity", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/chatrooms/{name}/messages": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List messages in a chatroom",
                "operationId": "listMessages",
                "parameters": [
                    {"type": "string", "description": "Participant identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "304": {"description": "Not modified"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message to a chatroom",
                "operationId": "postMessage",
                "parameters": [
                    {"type": "string", "description": "Sender identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Client message id for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"description": "Message payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/handlers.PostMessageResponse"}},
                    "201": {"description": "Stored and fanned out", "schema": {"$ref": "#/definitions/handlers.PostMessageResponse"}},
                    "403": {"description": "Not a participant", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Idempotency-Key reused for a different message", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chatrooms/{name}/messages/{id}/acks": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "List who acknowledged a message",
                "operationId": "listAcknowledgements",
                "parameters": [
                    {"type": "string", "description": "Participant identity", "name": "X-User-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Chatroom name", "name": "name", "in": "path", "required": true},
                    {"type": "string", "format": "uuid", "description": "Message ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "default": "read", "description": "delivered or read", "name": "kind", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AcknowledgementsResponse"}}
                }
            }
        },
        "/presence": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Presence"],
                "summary": "List online identities",
                "operationId": "listPresence",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PresenceResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.AckRecord": {
            "type": "object",
            "properties": {
                "at": {"type": "string"},
                "avatar_url": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "domain.Participant": {
            "type": "object",
            "properties": {
                "avatar_url": {"type": "string"},
                "created_at": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "role": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "domain.Chatroom": {
            "type": "object",
            "properties": {
                "avatar_url": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "name": {"type": "string"},
                "participants": {"type": "array", "items": {"$ref": "#/definitions/domain.Participant"}},
                "updated_at": {"type": "string"}
            }
        },
        "domain.ChatMessage": {
            "type": "object",
            "properties": {
                "body": {"type": "string"},
                "chatroom_id": {"type": "string"},
                "client_msg_id": {"type": "string"},
                "id": {"type": "string"},
                "mentions": {"type": "array", "items": {"type": "string"}},
                "message_type": {"type": "string", "enum": ["text", "image", "video", "audio", "file"]},
                "sender_id": {"type": "string"},
                "sender_name": {"type": "string"},
                "seq": {"type": "integer"},
                "status": {"type": "string", "enum": ["sent", "delivered", "read"]}
            }
        },
        "events.PresenceEntry": {
            "type": "object",
            "properties": {
                "connectedAt": {"type": "string"},
                "identity": {"type": "string"},
                "online": {"type": "boolean"},
                "role": {"type": "string"}
            }
        },
        "handlers.AcknowledgementsResponse": {
            "type": "object",
            "properties": {
                "acks": {"type": "array", "items": {"$ref": "#/definitions/domain.AckRecord"}},
                "kind": {"type": "string", "example": "read"}
            }
        },
        "handlers.CreateChatroomRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "avatar_url": {"type": "string"},
                "name": {"type": "string", "example": "general"},
                "participants": {"type": "array", "items": {"$ref": "#/definitions/handlers.ParticipantInput"}}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "resource not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.ListChatroomsResponse": {
            "type": "object",
            "properties": {
                "chatrooms": {"type": "array", "items": {"$ref": "#/definitions/domain.Chatroom"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.ChatMessage"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.ParticipantInput": {
            "type": "object",
            "required": ["user_id"],
            "properties": {
                "avatar_url": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "role": {"type": "string"},
                "user_id": {"type": "string", "example": "u-alice"}
            }
        },
        "handlers.PostMessageRequest": {
            "type": "object",
            "required": ["body"],
            "properties": {
                "body": {"type": "string", "example": "hello everyone"},
                "mentions": {"type": "array", "items": {"type": "string"}},
                "message_type": {"type": "string", "example": "text"},
                "reply_to": {"$ref": "#/definitions/handlers.ReplyRequest"}
            }
        },
        "handlers.PostMessageResponse": {
            "type": "object",
            "properties": {
                "message": {"$ref": "#/definitions/domain.ChatMessage"},
                "offline": {"type": "integer"},
                "queued": {"type": "integer"}
            }
        },
        "handlers.PresenceResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer", "example": 2},
                "online": {"type": "array", "items": {"$ref": "#/definitions/events.PresenceEntry"}}
            }
        },
        "handlers.RenameChatroomRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string", "example": "random"}}
        },
        "handlers.ReplyRequest": {
            "type": "object",
            "properties": {"body": {"type": "string"}, "id": {"type": "string"}}
        },
        "handlers.SetAvatarRequest": {
            "type": "object",
            "properties": {"avatar_url": {"type": "string"}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Chatroom Delivery API",
	Description:      "REST surface of the realtime chatroom delivery service. Live delivery uses the websocket endpoint.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
