package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/seren-social/seren/models"
	"gorm.io/gorm"
)

type CreateAccountCmd struct {
	Email    string `required:"" help:"email address of the account to create, the local part becomes the username"`
	Domain   string `required:"" help:"domain name of this instance"`
	Password string `required:"" help:"password of the account to create"`
}

func (c *CreateAccountCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	username, _, found := strings.Cut(c.Email, "@")
	if !found || username == "" {
		return errors.New("invalid email address")
	}

	account, err := models.NewAccounts(db).Create(c.Domain, username, c.Email, c.Password)
	if err != nil {
		return err
	}
	fmt.Println("created account", account.Actor.Acct())
	return nil
}
