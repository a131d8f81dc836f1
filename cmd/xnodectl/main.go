package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:           "xnodectl",
		Short:         "Operator tooling for the Xnode control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&apiURL, "api", os.Getenv("XNODED_API"), "Base URL of the control plane API")

	client := func() (*operatorClient, error) {
		return newOperatorClient(apiURL, os.Getenv("XNODED_SESSION_TOKEN"))
	}

	cmd.AddCommand(newDeploymentsCommand(client))
	cmd.AddCommand(newGenerationCommand(client))
	cmd.AddCommand(newServicesCommand(client))
	return cmd
}

type clientFunc func() (*operatorClient, error)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newDeploymentsCommand(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Inspect and manage registered Xnodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newDeploymentsListCommand(client))
	cmd.AddCommand(newDeploymentsGetCommand(client))
	cmd.AddCommand(newDeploymentsCreateCommand(client))
	cmd.AddCommand(newDeploymentsRegisterCommand(client))
	cmd.AddCommand(newDeploymentsRemoveCommand(client))
	return cmd
}

func newDeploymentsListCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the operator's fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.get(cmdContext(cmd), "/v1/xnodes/getXnodes", nil)
		},
	}
}

func newDeploymentsGetCommand(client clientFunc) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.get(cmdContext(cmd), "/v1/xnodes/getXnode", url.Values{"id": []string{id}})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Deployment id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeploymentsCreateCommand(client clientFunc) *cobra.Command {
	var (
		deploymentAuth string
		name           string
		description    string
		services       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a claimed hardware unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.post(cmdContext(cmd), "/v1/xnodes/createXnode", map[string]any{
				"deploymentAuth": deploymentAuth,
				"isUnit":         true,
				"name":           name,
				"description":    description,
				"services":       services,
			})
		},
	}

	cmd.Flags().StringVar(&deploymentAuth, "claim-token", "", "Decimal claim token id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&services, "services", "", "Initial services JSON")
	_ = cmd.MarkFlagRequired("claim-token")
	return cmd
}

func newDeploymentsRegisterCommand(client clientFunc) *cobra.Command {
	var (
		id          string
		name        string
		description string
		services    string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a device onboarded out-of-band",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.post(cmdContext(cmd), "/v1/xnodes/registerXnodeDeployment", map[string]any{
				"id":          id,
				"name":        name,
				"description": description,
				"services":    services,
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Caller-supplied deployment id")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&services, "services", "", "Initial services JSON")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeploymentsRemoveCommand(client clientFunc) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.post(cmdContext(cmd), "/v1/xnodes/removeXnodeDeployment", map[string]any{"id": id})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Deployment id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newGenerationCommand(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generation",
		Short: "Drive the want/have convergence counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newGenerationAllowCommand(client, "allow-config",
		"Allow a new config generation", "/v1/xnodes/allowXnodeGenerationConfig"))
	cmd.AddCommand(newGenerationAllowCommand(client, "allow-update",
		"Allow a new update generation", "/v1/xnodes/allowXnodeGenerationUpdate"))
	return cmd
}

func newGenerationAllowCommand(client clientFunc, use, short, path string) *cobra.Command {
	var (
		id         string
		generation int64
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return c.post(cmdContext(cmd), path, map[string]any{
				"id":         id,
				"generation": generation,
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Deployment id")
	cmd.Flags().Int64Var(&generation, "generation", 0, "Target generation")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("generation")
	return cmd
}

func newServicesCommand(client clientFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage the service configuration of a deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newServicesPushCommand(client))
	return cmd
}

func newServicesPushCommand(client clientFunc) *cobra.Command {
	var (
		id   string
		file string
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a services file and bump the config want counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			services, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read services file: %w", err)
			}
			return c.post(cmdContext(cmd), "/v1/xnodes/pushXnodeServices", map[string]any{
				"id":       id,
				"services": string(services),
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Deployment id")
	cmd.Flags().StringVar(&file, "file", "", "Path to the services JSON file")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
