package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/messaging"
	"github.com/trezcool/shule/core/user"
)

type messagingApi struct {
	svc     messaging.Service
	userSvc user.Service
}

func registerMessagingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc messaging.Service, userSvc user.Service) {
	api := messagingApi{svc: svc, userSvc: userSvc}

	mg := g.Group("/messaging", jwt)

	mg.POST("/announcements", api.sendAnnouncement, teacherMiddleware())
	mg.GET("/announcements", api.announcements)
	mg.POST("/announcements/:id/read", api.readAnnouncement)

	mg.POST("/messages", api.sendMessage)
	mg.GET("/messages", api.inbox)
	mg.GET("/messages/:id/thread", api.thread)
	mg.POST("/messages/:id/read", api.markMessageRead)

	mg.GET("/unread-counts", api.unreadCounts)
}

// Handlers

func (api *messagingApi) sendAnnouncement(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data messaging.NewAnnouncement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnnouncement")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ann, err := api.svc.SendAnnouncement(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "sending announcement")
	}
	return ctx.JSON(http.StatusCreated, ann)
}

func (api *messagingApi) announcements(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := new(messaging.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []messaging.AnnouncementItem{})
	}

	items, err := api.svc.UserAnnouncements(ctx.Request().Context(), ctxUsr.ID, *filter)
	if err != nil {
		return errors.Wrap(err, "querying announcements")
	}
	if items == nil {
		items = []messaging.AnnouncementItem{}
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *messagingApi) readAnnouncement(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	ann, err := api.svc.ReadAnnouncement(ctx.Request().Context(), ctx.Param("id"), ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "reading announcement")
	}
	return ctx.JSON(http.StatusOK, ann)
}

func (api *messagingApi) sendMessage(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data messaging.NewPrivateMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPrivateMessage")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	msg, err := api.svc.SendMessage(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		if errors.Cause(err) == messaging.ErrNotParticipant {
			return errHttpForbidden
		}
		return errors.Wrap(err, "sending message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) inbox(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var unread *bool
	if v := ctx.QueryParam("unread"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			unread = &b
		}
	}

	msgs, err := api.svc.Inbox(ctx.Request().Context(), ctxUsr.ID, unread)
	if err != nil {
		return errors.Wrap(err, "querying inbox")
	}
	if msgs == nil {
		msgs = []messaging.PrivateMessage{}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) thread(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	msgs, err := api.svc.Thread(ctx.Request().Context(), ctxUsr.ID, ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == messaging.ErrNotParticipant {
			return errHttpForbidden
		}
		return errors.Wrap(err, "querying thread")
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) markMessageRead(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.MarkMessageRead(ctx.Request().Context(), ctxUsr.ID, ctx.Param("id")); err != nil {
		if errors.Cause(err) == messaging.ErrNotRecipient {
			return errHttpForbidden
		}
		return errors.Wrap(err, "marking message read")
	}
	return ctx.JSON(http.StatusOK, StatusResponse{Status: "success", Message: "Message marked as read."})
}

func (api *messagingApi) unreadCounts(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	counts, err := api.svc.UnreadCounts(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		return errors.Wrap(err, "counting unread")
	}
	return ctx.JSON(http.StatusOK, counts)
}
