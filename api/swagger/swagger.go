package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Class Scheduler API",
        "description": "Content-aware class auto-scheduling: runs, conflicts, recommendations and overrides",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Scheduling", "description": "Scheduling runs, progress and conflicts"},
        {"name": "Recommendations", "description": "Advisory changes awaiting operator review"},
        {"name": "Classes", "description": "Class lifecycle and overrides"},
        {"name": "Observability", "description": "Service counters"}
    ],
    "paths": {
        "/scheduling/runs": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Submit an asynchronous scheduling run",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Workers unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/runs/{id}": {
            "get": {
                "tags": ["Scheduling"],
                "summary": "Get a scheduling run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/runs/{id}/progress": {
            "get": {
                "tags": ["Scheduling"],
                "summary": "Stream run progress as server-sent events",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "progress events until the run is terminal"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/runs/{id}/cancel": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Cancel a queued or running run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run already finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/runs/{id}/metrics": {
            "get": {
                "tags": ["Scheduling"],
                "summary": "Performance metrics of a completed run",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Run has no result yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/conflicts": {
            "get": {
                "tags": ["Scheduling"],
                "summary": "Detect conflicts across active classes with ranked resolutions",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/bulk": {
            "post": {
                "tags": ["Scheduling"],
                "summary": "Execute a bulk operation",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkOperationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid operation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/recommendations": {
            "get": {
                "tags": ["Recommendations"],
                "summary": "List recommendations",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "approved", "rejected", "deferred"]},
                    {"name": "type", "in": "query", "type": "string", "enum": ["alternative_time", "alternative_teacher", "regroup", "improve_assignment"]},
                    {"name": "run_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/recommendations/{id}": {
            "get": {
                "tags": ["Recommendations"],
                "summary": "Get a recommendation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/recommendations/{id}/resolve": {
            "post": {
                "tags": ["Recommendations"],
                "summary": "Approve, reject or defer a recommendation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResolveRecommendationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/classes/{id}": {
            "get": {
                "tags": ["Classes"],
                "summary": "Get a scheduled class",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/classes/{id}/overrides": {
            "get": {
                "tags": ["Classes"],
                "summary": "Override history and effective overrides of a class",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Classes"],
                "summary": "Apply an override",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyOverrideRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid override", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/classes/{id}/confirm": {
            "post": {
                "tags": ["Classes"],
                "summary": "Confirm a proposed class",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scheduling/classes/{id}/cancel": {
            "post": {
                "tags": ["Classes"],
                "summary": "Cancel a class",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelClassRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Scheduler service counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GoalWeight": {
            "type": "object",
            "properties": {
                "goal": {"type": "string", "enum": ["content_priority", "teacher_utilization", "student_satisfaction", "class_size_optimization"]},
                "weight": {"type": "number"}
            }
        },
        "SchedulingConstraints": {
            "type": "object",
            "properties": {
                "honor_teacher_availability": {"type": "boolean"},
                "honor_room_availability": {"type": "boolean"},
                "enforce_content_sequencing": {"type": "boolean"},
                "avoid_student_conflicts": {"type": "boolean"}
            }
        },
        "TimeRange": {
            "type": "object",
            "properties": {
                "from": {"type": "string", "format": "date-time"},
                "to": {"type": "string", "format": "date-time"}
            }
        },
        "CreateRunRequest": {
            "type": "object",
            "properties": {
                "course_type": {"type": "string"},
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "time_range": {"$ref": "#/definitions/TimeRange"},
                "goals": {"type": "array", "items": {"$ref": "#/definitions/GoalWeight"}},
                "constraints": {"$ref": "#/definitions/SchedulingConstraints"},
                "iteration_budget": {"type": "integer"}
            },
            "required": ["course_type"]
        },
        "OverrideParams": {
            "type": "object",
            "properties": {
                "teacher_id": {"type": "string"},
                "slot_id": {"type": "string"},
                "max_students": {"type": "integer"}
            }
        },
        "ApplyOverrideRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["force_schedule", "prevent_schedule", "preferred_teacher", "preferred_time", "class_size"]},
                "reason": {"type": "string"},
                "priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
                "params": {"$ref": "#/definitions/OverrideParams"}
            },
            "required": ["type", "reason"]
        },
        "ResolveRecommendationRequest": {
            "type": "object",
            "properties": {
                "decision": {"type": "string", "enum": ["approve", "reject", "defer"]},
                "reason": {"type": "string"}
            },
            "required": ["decision"]
        },
        "CancelClassRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "Reassignment": {
            "type": "object",
            "properties": {
                "class_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "slot_id": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "BulkOperationRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["batch_schedule", "batch_reassign", "approve_recommendations"]},
                "requests": {"type": "array", "items": {"$ref": "#/definitions/CreateRunRequest"}},
                "reassignments": {"type": "array", "items": {"$ref": "#/definitions/Reassignment"}},
                "recommendation_ids": {"type": "array", "items": {"type": "string"}},
                "reason": {"type": "string"}
            },
            "required": ["type"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
