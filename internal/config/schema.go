package config

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "path": {"type": "string", "pattern": "^/"},
    "strings": {"type": "array", "items": {"type": "string"}}
  },
  "properties": {
    "server": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "port": {"$ref": "#/definitions/port"},
        "graphql_path": {"$ref": "#/definitions/path"},
        "subscriptions_path": {"$ref": "#/definitions/path"},
        "sse_path": {"$ref": "#/definitions/path"},
        "max_body_bytes": {"type": "integer", "minimum": 1},
        "shutdown_timeout": {"$ref": "#/definitions/duration"},
        "tls": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "cert_file": {"type": "string"},
            "key_file": {"type": "string"},
            "http3": {"type": "boolean"}
          }
        },
        "cors": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "allowed_origins": {"$ref": "#/definitions/strings"},
            "allowed_headers": {"$ref": "#/definitions/strings"}
          }
        }
      }
    },
    "graphql": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "pretty": {"type": "boolean"},
        "graphiql": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "enabled": {"type": "boolean"},
            "default_query": {"type": "string"},
            "header_editor_enabled": {"type": "boolean"},
            "should_persist_headers": {"type": "boolean"},
            "websocket_client": {"enum": ["", "v0", "v1"]},
            "editor_theme": {"type": "string"},
            "editor_theme_url": {"type": "string"}
          }
        }
      }
    },
    "subscriptions": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "keep_alive": {"$ref": "#/definitions/duration"},
        "init_timeout": {"$ref": "#/definitions/duration"},
        "allowed_origins": {"$ref": "#/definitions/strings"},
        "message_count": {"type": "integer", "minimum": 1},
        "message_interval": {"$ref": "#/definitions/duration"}
      }
    },
    "store": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "driver": {"enum": ["memory", "redis"]},
        "redis": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "address": {"type": "string"},
            "password": {"type": "string"},
            "db": {"type": "integer", "minimum": 0},
            "key_prefix": {"type": "string"}
          }
        }
      }
    },
    "auth": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "secret": {"type": "string"},
        "required": {"type": "boolean"},
        "issuer": {"type": "string"}
      }
    },
    "extensions": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "script_file": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]},
        "development": {"type": "boolean"},
        "encoding": {"enum": ["", "json", "console"]}
      }
    },
    "tracing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "endpoint": {"type": "string"},
        "sample_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "dashboard": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"$ref": "#/definitions/port"},
        "max_operations": {"type": "integer", "minimum": 1}
      }
    },
    "health_grpc": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"$ref": "#/definitions/port"},
        "reflection": {"type": "boolean"},
        "poll_interval": {"$ref": "#/definitions/duration"}
      }
    }
  }
}`
