package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 2 * time.Second

type componentHealth struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Version string `json:"version,omitempty"`
}

type healthzResponse struct {
	OK         bool                       `json:"ok"`
	Now        int64                      `json:"now"`
	Clients    int                        `json:"clients"`
	Components map[string]componentHealth `json:"components"`
}

func (s *Server) redisHealth(ctx context.Context) componentHealth {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return componentHealth{Error: err.Error()}
	}
	return componentHealth{OK: true}
}

func (s *Server) nodeHealth(ctx context.Context) componentHealth {
	body, err := s.node.Call(ctx, map[string]string{"action": "version"})
	if err != nil {
		return componentHealth{Error: err.Error()}
	}
	var resp struct {
		Error      string `json:"error"`
		NodeVendor string `json:"node_vendor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return componentHealth{Error: "unexpected version reply"}
	}
	if resp.Error != "" {
		return componentHealth{Error: resp.Error}
	}
	return componentHealth{OK: true, Version: resp.NodeVendor}
}

// @summary	Redis and node health
// @tags		system
// @produce	json
// @router		/healthz [get]
func (s *Server) healthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	response := healthzResponse{
		OK:         true,
		Now:        time.Now().Unix(),
		Clients:    s.manager.Len(),
		Components: make(map[string]componentHealth, 2),
	}

	redisStatus := s.redisHealth(ctx)
	response.OK = response.OK && redisStatus.OK
	response.Components["redis"] = redisStatus

	nodeStatus := s.nodeHealth(ctx)
	response.OK = response.OK && nodeStatus.OK
	response.Components["node"] = nodeStatus

	if response.OK {
		return c.Status(fiber.StatusOK).JSON(response)
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(response)
}
