package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("sitewatch", func() {
	Title("Sitewatch Camera Control")
	Description("Capture, detection and alerting control for construction site cameras")
	Version("1.0")
	Server("sitewatch", func() {
		Services("health", "capture", "auth")
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

// Error types. Every error body is {"error": "..."}.
var BadRequestError = Type("BadRequestError", func() {
	Description("Invalid request")
	Field(1, "error", String, "Error message")
	Required("error")
})

var NotFoundError = Type("NotFoundError", func() {
	Description("Camera or image not found")
	Field(1, "error", String, "Error message")
	Required("error")
})

var UnauthorizedError = Type("UnauthorizedError", func() {
	Description("Missing or invalid credentials")
	Field(1, "error", String, "Error message")
	Required("error")
})

var NotReadyError = Type("NotReadyError", func() {
	Description("A dependency is unavailable")
	Field(1, "error", String, "Error message")
	Required("error")
})

// Data types
var DispatcherStats = Type("DispatcherStats", func() {
	Description("Detection queue counters")
	Field(1, "capacity", Int, "Queue capacity")
	Field(2, "length", Int, "Frames waiting")
	Field(3, "enqueued", UInt64, "Frames accepted")
	Field(4, "dropped", UInt64, "Frames dropped because the queue was full")
	Field(5, "dequeued", UInt64, "Frames handed to the detector")
	Required("capacity", "length", "enqueued", "dropped", "dequeued")
})

var CaptureStatus = Type("CaptureStatus", func() {
	Description("Capture controller status")
	Field(1, "status", String, "Human readable state", func() {
		Enum("Capturing", "Not Capturing")
	})
	Field(2, "capturing", Boolean, "Whether the workers run")
	Field(3, "armed", Boolean, "Whether detections raise alerts")
	Field(4, "save_interval", Int, "Seconds between capture cycles")
	Field(5, "cameras", Int, "Configured cameras")
	Field(6, "queue", DispatcherStats, "Detection queue counters")
	Field(7, "cycles", UInt64, "Capture cycles run")
	Field(8, "processed", UInt64, "Frames saved")
	Field(9, "last_cycle", String, "Start of the last capture cycle", func() {
		Format(FormatDateTime)
	})
	Field(10, "uptime_seconds", Int, "Service uptime in seconds")
	Required("status", "capturing", "armed", "save_interval", "cameras", "queue", "cycles", "processed", "uptime_seconds")
})

var ActionResult = Type("ActionResult", func() {
	Description("Result of a control operation")
	Field(1, "status", String, "Outcome message")
	Field(2, "changed", Boolean, "False when the controller was already in the requested state")
	Field(3, "state", CaptureStatus, "Status after the operation")
	Required("status", "changed", "state")
})

var Box = Type("Box", func() {
	Description("Bounding box in source frame pixels")
	Field(1, "x1", Int, "Left")
	Field(2, "y1", Int, "Top")
	Field(3, "x2", Int, "Right")
	Field(4, "y2", Int, "Bottom")
	Required("x1", "y1", "x2", "y2")
})

var DetectionEvent = Type("DetectionEvent", func() {
	Description("A saved frame and the objects found in it")
	Field(1, "id", String, "Event identifier", func() {
		Format(FormatUUID)
	})
	Field(2, "camera", Int, "Camera index")
	Field(3, "timestamp", String, "Capture time", func() {
		Format(FormatDateTime)
	})
	Field(4, "filename", String, "Image path relative to the storage root")
	Field(5, "boxes", ArrayOf(Box), "Detected objects")
	Field(6, "alerted", Boolean, "Whether an alert was submitted")
	Required("id", "camera", "timestamp", "filename", "boxes", "alerted")
})

var DiskUsage = Type("DiskUsage", func() {
	Description("Storage filesystem capacity in bytes")
	Field(1, "total", UInt64, "Total bytes")
	Field(2, "used", UInt64, "Used bytes")
	Field(3, "free", UInt64, "Bytes available")
	Required("total", "used", "free")
})

// Health check service
var _ = Service("health", func() {
	Description("Liveness and readiness probes")

	Method("healthz", func() {
		Description("Liveness probe")
		Result(Empty)
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness probe, fails while the event index is unreachable")
		Result(Empty)
		Error("not_ready", NotReadyError, "Service is not ready")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("not_ready", StatusServiceUnavailable)
		})
	})
})

// Capture control service
var _ = Service("capture", func() {
	Description("Capture lifecycle, alerting and image access. Detection events are " +
		"also streamed over a websocket at /ws/detections/{index}.")

	Error("unauthorized", UnauthorizedError, "Missing or invalid bearer token")
	HTTP(func() {
		Response("unauthorized", StatusUnauthorized)
	})

	Method("start", func() {
		Description("Start the capture and detection workers")
		Result(ActionResult)
		HTTP(func() {
			POST("/start")
			Response(StatusOK)
		})
	})

	Method("stop", func() {
		Description("Stop the workers and wait for them to exit")
		Result(ActionResult)
		HTTP(func() {
			POST("/stop")
			Response(StatusOK)
		})
	})

	Method("status", func() {
		Description("Current capture status")
		Result(CaptureStatus)
		HTTP(func() {
			GET("/status")
			Response(StatusOK)
		})
	})

	Method("set_interval", func() {
		Description("Change the seconds between capture cycles")
		Payload(func() {
			Field(1, "interval", Int, "Seconds between cycles", func() {
				Minimum(1)
			})
			Required("interval")
		})
		Result(ActionResult)
		Error("bad_request", BadRequestError, "Interval must be a positive integer")
		HTTP(func() {
			POST("/set_interval")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
		})
	})

	Method("arm", func() {
		Description("Raise alerts for subsequent detections")
		Result(ActionResult)
		HTTP(func() {
			POST("/arm")
			Response(StatusOK)
		})
	})

	Method("disarm", func() {
		Description("Stop raising alerts")
		Result(ActionResult)
		HTTP(func() {
			POST("/disarm")
			Response(StatusOK)
		})
	})

	Method("latest", func() {
		Description("Most recently saved image of a camera as JPEG")
		Payload(func() {
			Field(1, "index", Int, "Camera index", func() {
				Minimum(0)
			})
			Required("index")
		})
		Result(Bytes)
		Error("not_found", NotFoundError, "Unknown camera or no image saved yet")
		HTTP(func() {
			GET("/cameras/{index}/latest")
			Response(StatusOK, func() {
				ContentType("image/jpeg")
			})
			Response("not_found", StatusNotFound)
		})
	})

	Method("frame", func() {
		Description("Capture a fresh frame from a camera as JPEG")
		Payload(func() {
			Field(1, "index", Int, "Camera index", func() {
				Minimum(0)
			})
			Required("index")
		})
		Result(Bytes)
		Error("not_found", NotFoundError, "Unknown camera")
		Error("not_ready", NotReadyError, "Camera returned no frame")
		HTTP(func() {
			GET("/cameras/{index}/frame")
			Response(StatusOK, func() {
				ContentType("image/jpeg")
			})
			Response("not_found", StatusNotFound)
			Response("not_ready", StatusServiceUnavailable)
		})
	})

	Method("events", func() {
		Description("List indexed detection events, newest first")
		Payload(func() {
			Field(1, "camera", Int, "Only events of this camera")
			Field(2, "limit", Int, "Maximum events", func() {
				Minimum(1)
				Default(100)
			})
			Field(3, "detections", Boolean, "Only events with at least one box")
		})
		Result(func() {
			Field(1, "events", ArrayOf(DetectionEvent), "Events")
			Required("events")
		})
		Error("bad_request", BadRequestError, "Invalid filter")
		HTTP(func() {
			GET("/events")
			Param("camera")
			Param("limit")
			Param("detections")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
		})
	})

	Method("disk_space", func() {
		Description("Capacity of the storage filesystem")
		Result(DiskUsage)
		HTTP(func() {
			GET("/disk_space")
			Response(StatusOK)
		})
	})
})

// Authentication service
var _ = Service("auth", func() {
	Description("Bearer token issuance")

	Method("login", func() {
		Description("Exchange operator credentials for a JWT")
		Payload(func() {
			Field(1, "username", String, "Operator username")
			Field(2, "password", String, "Operator password")
			Required("username", "password")
		})
		Result(func() {
			Field(1, "token", String, "Bearer token")
			Field(2, "expires_at", String, "Token expiry", func() {
				Format(FormatDateTime)
			})
			Required("token", "expires_at")
		})
		Error("unauthorized", UnauthorizedError, "Invalid username or password")
		Error("bad_request", BadRequestError, "Authentication is disabled")
		HTTP(func() {
			POST("/auth/login")
			Response(StatusOK)
			Response("unauthorized", StatusUnauthorized)
			Response("bad_request", StatusBadRequest)
		})
	})

	Method("status", func() {
		Description("Authentication state of the caller")
		Result(func() {
			Field(1, "enabled", Boolean, "Whether authentication is enforced")
			Field(2, "authenticated", Boolean, "Whether the caller presented a valid token")
			Field(3, "username", String, "Authenticated username")
			Required("enabled", "authenticated")
		})
		HTTP(func() {
			GET("/auth/status")
			Response(StatusOK)
		})
	})
})
