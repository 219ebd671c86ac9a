// Package docs registers the OpenAPI document served on /swagger.
//
// Regenerate after changing handler annotations:
//
//	swag init -g cmd/aisha/main.go -o docs --parseInternal
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Probes"],
                "summary": "Liveness probe",
                "operationId": "health",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}}
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Probes"],
                "summary": "Readiness probe",
                "operationId": "ready",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ReadyResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ReadyResponse"}}
                }
            }
        },
        "/webhook/job-status": {
            "post": {
                "security": [{"WebhookSecret": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Receive a job-status webhook",
                "operationId": "jobStatusWebhook",
                "parameters": [{"description": "Webhook payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.JobStatusRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobStatusResponse"}},
                    "400": {"description": "Malformed payload", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Bad secret", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/sessions/{bot}/{chat}/{user}/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Read a session state",
                "operationId": "getSessionState",
                "parameters": [
                    {"type": "integer", "name": "bot", "in": "path", "required": true},
                    {"type": "integer", "name": "chat", "in": "path", "required": true},
                    {"type": "integer", "name": "user", "in": "path", "required": true},
                    {"type": "integer", "default": 0, "name": "thread", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StateResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/sessions/{bot}/{chat}/{user}/data": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Read session data",
                "operationId": "getSessionData",
                "parameters": [
                    {"type": "integer", "name": "bot", "in": "path", "required": true},
                    {"type": "integer", "name": "chat", "in": "path", "required": true},
                    {"type": "integer", "name": "user", "in": "path", "required": true},
                    {"type": "integer", "default": 0, "name": "thread", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.DataResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/jobs": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "Register a provider job",
                "operationId": "createJob",
                "parameters": [{"description": "Job", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateJobRequest"}}],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Already registered", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/api/v1/users/{id}/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Jobs"],
                "summary": "List a user's jobs (paginated)",
                "operationId": "listUserJobs",
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListJobsResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"}
            }
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {"status": {"type": "string", "example": "healthy"}, "time": {"type": "string"}}
        },
        "handlers.ReadyResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ready"},
                "checks": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "handlers.JobStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "completed"},
                "request_id": {"type": "string", "example": "job-123"}
            }
        },
        "handlers.JobStatusResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "received"},
                "request_id": {"type": "string", "example": "job-123"},
                "outcome": {"$ref": "#/definitions/services.Outcome"}
            }
        },
        "services.Outcome": {
            "type": "object",
            "properties": {"delivered": {"type": "boolean"}, "reason": {"type": "string", "example": "resolved_and_sent"}}
        },
        "handlers.StateResponse": {
            "type": "object",
            "properties": {"state": {"type": "string", "example": "avatar:awaiting_photos"}}
        },
        "handlers.DataResponse": {
            "type": "object",
            "properties": {"data": {"type": "object"}}
        },
        "handlers.CreateJobRequest": {
            "type": "object",
            "required": ["request_id", "user_id"],
            "properties": {
                "request_id": {"type": "string", "example": "job-123"},
                "user_id": {"type": "integer", "example": 42},
                "resource_name": {"type": "string", "example": "Business Anna"},
                "kind": {"type": "string", "example": "avatar"}
            }
        },
        "handlers.ListJobsResponse": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"type": "object"}},
                "pagination": {"type": "object"}
            }
        }
    },
    "securityDefinitions": {
        "WebhookSecret": {"type": "apiKey", "name": "X-Webhook-Secret", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Aisha API",
	Description:      "Job-status webhooks, conversational sessions and job registration for the Aisha Telegram bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
