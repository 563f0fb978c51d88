package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "RDM API",
        "description": "Versioned research data query and transformation engine",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token issuance"},
        {"name": "Data", "description": "Query, write, delete and export study data"},
        {"name": "Versions", "description": "Checkpoint history"},
        {"name": "Roles", "description": "Permission utilities"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unavailable"}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/api/v1/studies/{studyId}/query": {
            "post": {
                "tags": ["Data"],
                "summary": "Query study data",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/QueryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "No role grants the operation"},
                    "404": {"description": "Unknown study or data version"}
                }
            }
        },
        "/api/v1/studies/{studyId}/fields": {
            "get": {
                "tags": ["Data"],
                "summary": "List field dictionary",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "projectId", "in": "query", "type": "string"},
                    {"name": "versionId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "No role grants the operation"}
                }
            },
            "post": {
                "tags": ["Data"],
                "summary": "Append field definitions",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WriteFieldsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Appended"},
                    "400": {"description": "Invalid verifier pattern"},
                    "403": {"description": "No role grants the operation"}
                }
            }
        },
        "/api/v1/studies/{studyId}/data": {
            "post": {
                "tags": ["Data"],
                "summary": "Append data points",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WriteRequest"}}
                ],
                "responses": {
                    "201": {"description": "Appended"},
                    "400": {"description": "Rejected by field verifiers"},
                    "403": {"description": "No role grants the operation"}
                }
            },
            "delete": {
                "tags": ["Data"],
                "summary": "Tombstone data points",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeleteRequest"}}
                ],
                "responses": {
                    "204": {"description": "Tombstoned"},
                    "403": {"description": "No role grants the operation"}
                }
            }
        },
        "/api/v1/studies/{studyId}/versions": {
            "get": {
                "tags": ["Versions"],
                "summary": "List data versions",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Versions"],
                "summary": "Commit a checkpoint",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CheckpointRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Administrator access required"}
                }
            }
        },
        "/api/v1/studies/{studyId}/export": {
            "get": {
                "tags": ["Data"],
                "summary": "Export study data",
                "parameters": [
                    {"name": "studyId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "projectId", "in": "query", "type": "string"},
                    {"name": "versionId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"},
                    "403": {"description": "No role grants the operation"}
                }
            }
        },
        "/api/v1/roles/validate": {
            "post": {
                "tags": ["Roles"],
                "summary": "Validate role permission patterns",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RolePermissions"}}
                ],
                "responses": {
                    "200": {"description": "All patterns compile"},
                    "400": {"description": "A pattern does not compile"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "QueryRequest": {
            "type": "object",
            "properties": {
                "project_id": {"type": "string"},
                "version_id": {"type": "string"},
                "field_ids": {"type": "array", "items": {"type": "string"}},
                "aggregation": {"type": "object"},
                "force": {"type": "boolean"}
            }
        },
        "WriteRequest": {
            "type": "object",
            "properties": {
                "project_id": {"type": "string"},
                "entries": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/WriteEntry"}
                }
            }
        },
        "WriteEntry": {
            "type": "object",
            "properties": {
                "subject_id": {"type": "string"},
                "visit_id": {"type": "string"},
                "field_id": {"type": "string"},
                "value": {"type": "object"}
            }
        },
        "WriteFieldsRequest": {
            "type": "object",
            "properties": {
                "project_id": {"type": "string"},
                "entries": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "field_id": {"type": "string"},
                            "field_name": {"type": "string"},
                            "data_type": {"type": "string"},
                            "categorical_options": {"type": "array", "items": {"type": "string"}},
                            "verifiers": {"type": "array"},
                            "properties": {"type": "object"}
                        }
                    }
                }
            }
        },
        "DeleteRequest": {
            "type": "object",
            "properties": {
                "project_id": {"type": "string"},
                "entries": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "subject_id": {"type": "string"},
                            "visit_id": {"type": "string"},
                            "field_id": {"type": "string"}
                        }
                    }
                }
            }
        },
        "CheckpointRequest": {
            "type": "object",
            "properties": {
                "version": {"type": "string"},
                "content_id": {"type": "string"},
                "tag": {"type": "string"}
            }
        },
        "RolePermissions": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {
                        "subject_ids": {"type": "array", "items": {"type": "string"}},
                        "visit_ids": {"type": "array", "items": {"type": "string"}},
                        "field_ids": {"type": "array", "items": {"type": "string"}},
                        "uploaders": {"type": "array", "items": {"type": "string"}},
                        "has_versioned": {"type": "boolean"},
                        "operations": {"type": "array", "items": {"type": "string"}}
                    }
                },
                "manage": {
                    "type": "object",
                    "properties": {
                        "own": {"type": "boolean"},
                        "role": {"type": "boolean"}
                    }
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
