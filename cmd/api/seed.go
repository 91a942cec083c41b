package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/user"
)

var seedOpts struct {
	roles       []string
	company     string
	layer       string
	layerNumber int
	group       string
	email       string
	password    string
	firstName   string
	lastName    string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the base roles and, optionally, a company with its first ceo",
	Long: `seed makes sure the roles exist. With --company it also creates the company,
one layer, one group and, when --email and --password are given, a ceo user who
can then create further layers and groups over the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.db.Close()

		if err := a.migrate(ctx); err != nil {
			return err
		}
		roles, err := a.orgs.SeedRoles(ctx, seedOpts.roles...)
		if err != nil {
			return err
		}
		sugar.Infow("roles seeded", "roles", roles)

		if seedOpts.company == "" {
			return nil
		}
		company, err := a.orgs.CreateCompany(ctx, seedOpts.company)
		if err != nil {
			return err
		}
		layer, err := a.orgs.CreateLayer(ctx, company.ID, seedOpts.layer, seedOpts.layerNumber)
		if err != nil {
			return err
		}
		group, err := a.orgs.CreateGroup(ctx, company.ID, seedOpts.group)
		if err != nil {
			return err
		}
		sugar.Infow("company seeded", "company_id", company.ID, "layer_id", layer.ID, "group_id", group.ID)

		if seedOpts.email == "" || seedOpts.password == "" {
			return nil
		}
		ceo, ok := roles["ceo"]
		if !ok {
			return fmt.Errorf("role ceo is not among --roles %v", seedOpts.roles)
		}
		u, err := a.users.Register(ctx, user.RegisterInput{
			FirstName: seedOpts.firstName,
			LastName:  seedOpts.lastName,
			Email:     seedOpts.email,
			Password:  seedOpts.password,
			RoleID:    ceo,
			LayerID:   layer.ID,
			CompanyID: company.ID,
			GroupID:   group.ID,
		})
		if err != nil {
			return err
		}
		sugar.Infow("ceo seeded", "user_id", u.ID, "email", u.Email)
		return nil
	},
}

func init() {
	f := seedCmd.Flags()
	f.StringSliceVar(&seedOpts.roles, "roles", []string{"ceo", "admin", "employee"}, "roles to create")
	f.StringVar(&seedOpts.company, "company", "", "company to create")
	f.StringVar(&seedOpts.layer, "layer", "Board", "name of the company's first layer")
	f.IntVar(&seedOpts.layerNumber, "layer-number", 10, "rank of the first layer")
	f.StringVar(&seedOpts.group, "group", "Management", "name of the company's first group")
	f.StringVar(&seedOpts.email, "email", "", "email of the ceo user")
	f.StringVar(&seedOpts.password, "password", "", "password of the ceo user")
	f.StringVar(&seedOpts.firstName, "first-name", "Chief", "first name of the ceo user")
	f.StringVar(&seedOpts.lastName, "last-name", "Executive", "last name of the ceo user")
}
