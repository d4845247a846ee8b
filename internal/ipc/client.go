package ipc

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotRunning means nothing listens on the control socket.
var ErrNotRunning = errors.New("compositor is not running")

// Client talks to a running compositor
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the given socket path
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// WithTimeout sets the per-request deadline
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// Status fetches the compositor status
func (c *Client) Status() (*Status, error) {
	resp, err := c.do(&Request{Op: OpStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, fmt.Errorf("status response without status")
	}
	return resp.Status, nil
}

// AddSurface creates a solid debug surface and returns its handle
func (c *Client) AddSurface(title string, x, y, w, h int32, rgba uint32) (uint64, error) {
	resp, err := c.do(&Request{Op: OpAddSurface, Title: title, X: x, Y: y, Width: w, Height: h, Color: rgba})
	if err != nil {
		return 0, err
	}
	return resp.Handle, nil
}

// RemoveSurface destroys a debug surface
func (c *Client) RemoveSurface(handle uint64) error {
	_, err := c.do(&Request{Op: OpRemoveSurface, Handle: handle})
	return err
}

// ToggleOverlay flips the FPS overlay
func (c *Client) ToggleOverlay() error {
	_, err := c.do(&Request{Op: OpToggleOverlay})
	return err
}

// Quit asks the compositor to shut down
func (c *Client) Quit() error {
	_, err := c.do(&Request{Op: OpQuit})
	return err
}

// IsRunning checks whether a compositor answers on the socket
func (c *Client) IsRunning() bool {
	_, err := c.Status()
	return err == nil
}

func (c *Client) do(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := writeFrame(conn, req.Marshal()); err != nil {
		return nil, err
	}
	data, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	resp, err := UnmarshalResponse(data)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("compositor error: %s", resp.Error)
	}
	return resp, nil
}
