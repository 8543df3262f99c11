package api

import "github.com/gin-gonic/gin"

type loginRequest struct {
	envelope
	User string `json:"user"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "login", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "login", h.core.Login(req.User))
}

type usersRequest struct {
	envelope
}

func (h *Handler) users(c *gin.Context) {
	var req usersRequest
	_ = c.ShouldBindJSON(&req)
	h.mergeClock(req.envelope)
	writeReply(c, "users", h.core.Users())
}

type channelRequest struct {
	envelope
	Channel string `json:"channel"`
}

func (h *Handler) channel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "channel", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "channel", h.core.Channel(req.Channel))
}

type channelsRequest struct {
	envelope
}

func (h *Handler) channels(c *gin.Context) {
	var req channelsRequest
	_ = c.ShouldBindJSON(&req)
	h.mergeClock(req.envelope)
	writeReply(c, "channels", h.core.Channels())
}

type publishRequest struct {
	envelope
	User    string `json:"user"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

func (h *Handler) publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "publish", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "publish", h.core.Publish(req.User, req.Channel, req.Message))
}

type messageRequest struct {
	envelope
	Src     string `json:"src"`
	Dst     string `json:"dst"`
	Message string `json:"message"`
}

func (h *Handler) message(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "message", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "message", h.core.Message(req.Src, req.Dst, req.Message))
}

type getHistoryRequest struct {
	envelope
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}

func (h *Handler) getHistory(c *gin.Context) {
	var req getHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "get_history", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "get_history", h.core.GetHistory(req.Channel, req.Limit))
}

type getPrivateHistoryRequest struct {
	envelope
	User  string `json:"user"`
	Peer  string `json:"peer"`
	Limit int    `json:"limit"`
}

func (h *Handler) getPrivateHistory(c *gin.Context) {
	var req getPrivateHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "get_private_history", "malformed payload")
		return
	}
	h.mergeClock(req.envelope)
	writeReply(c, "get_private_history", h.core.GetPrivateHistory(req.User, req.Peer, req.Limit))
}
