package main

import (
	"context"
	"fmt"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(email, pwd string, role core.Role, schoolID string) error {
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q", role)
	}
	if role != core.RoleSystemAdmin && schoolID == "" {
		return fmt.Errorf("a %s needs a school", role)
	}
	if role == core.RoleSystemAdmin {
		schoolID = ""
	}
	if err := user.ValidatePassword(pwd, email); err != nil {
		return err
	}
	ctx := context.Background()

	usr, err := cli.usrRepo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	switch {
	case core.IsNotFound(err):
		if usr, err = user.Build(email, pwd, role); err != nil {
			return err
		}
		usr.SchoolID = schoolID
		if _, err = cli.usrRepo.CreateUser(ctx, usr); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "created %s (%s)\n", usr.Email, usr.Role)
		return nil
	case err != nil:
		return err
	}

	usr.Role = role
	usr.SchoolID = schoolID
	usr.IsActive = true
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err = cli.usrRepo.UpdateUser(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "updated %s (%s)\n", usr.Email, usr.Role)
	return nil
}
