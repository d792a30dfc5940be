package main

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	usr, err := cli.getUser(ctx, uname, email)
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Name:      uname,
			Username:  uname,
			Email:     email,
			CreatedAt: now,
		}
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = now

	isActive := true
	if usr.ID == "" {
		usr.IsActive = true
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.UpdateUser(ctx, usr, &isActive)
	}
	return err
}

func (cli *commandLine) getUser(ctx context.Context, uname, email string) (user.User, error) {
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err == user.ErrNotFound {
		return cli.usrRepo.GetUserByUsernameOrEmail(ctx, email)
	}
	return usr, err
}
