package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gestaozabele/manutencao/internal/config"
	"github.com/gestaozabele/manutencao/internal/db"
	"github.com/gestaozabele/manutencao/internal/directory"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "maintctl",
		Short: "Operações administrativas do sistema de manutenção",
		Long: `maintctl executa tarefas de operação direto no banco, sem passar pela API.

Exemplos:
  maintctl migrate
  maintctl requests list --kind contractor --status waiting_approval
  maintctl requests decide contractor 0b7c... --approve --by chefe@example.com
  maintctl identities list --role contractor
  maintctl issues auto-assign
  maintctl categories validate categorias.yaml
`,
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCmd(), newRequestsCmd(), newIdentitiesCmd(), newIssuesCmd(), newCategoriesCmd())
	return root
}

// withApp abre os serviços para a duração do comando.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd, args)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica o schema do banco",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := db.Migrate(ctx, a.pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema aplicado")
			return nil
		}),
	}
}

func newRequestsCmd() *cobra.Command {
	requests := &cobra.Command{Use: "requests", Short: "Solicitações de acesso"}

	var kindFlag, statusFlag string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista solicitações",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			kinds := []directory.RequestKind{directory.KindUser, directory.KindContractor}
			if kindFlag != "" {
				kind, err := directory.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kinds = []directory.RequestKind{kind}
			}
			var status *directory.Status
			if statusFlag != "" {
				parsed, ok := directory.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("status inválido: %s", statusFlag)
				}
				status = &parsed
			}

			var out []directory.ApprovalRequest
			for _, kind := range kinds {
				list, err := a.workflow.ListRequests(ctx, kind, status)
				if err != nil {
					return err
				}
				out = append(out, list...)
			}
			if len(out) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nenhuma solicitação encontrada")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
	list.Flags().StringVar(&kindFlag, "kind", "", "user ou contractor")
	list.Flags().StringVar(&statusFlag, "status", "", "waiting_approval, approved ou denied")

	var approve, deny bool
	var decidedBy string
	decide := &cobra.Command{
		Use:   "decide <kind> <id>",
		Short: "Aprova ou nega uma solicitação",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			kind, id, approved, err := parseDecision(args, approve, deny)
			if err != nil {
				return err
			}
			decided, err := a.workflow.Decide(ctx, kind, id, approved, decidedBy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decided)
		}),
	}
	decide.Flags().BoolVar(&approve, "approve", false, "aprova a solicitação")
	decide.Flags().BoolVar(&deny, "deny", false, "nega a solicitação")
	decide.Flags().StringVar(&decidedBy, "by", defaultOperator(), "e-mail registrado no log da decisão")

	requests.AddCommand(list, decide)
	return requests
}

func parseDecision(args []string, approve, deny bool) (directory.RequestKind, uuid.UUID, bool, error) {
	if approve == deny {
		return "", uuid.Nil, false, errors.New("informe exatamente um entre --approve e --deny")
	}
	kind, err := directory.ParseKind(args[0])
	if err != nil {
		return "", uuid.Nil, false, err
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return "", uuid.Nil, false, fmt.Errorf("id inválido: %w", err)
	}
	return kind, id, approve, nil
}

func defaultOperator() string {
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func newIdentitiesCmd() *cobra.Command {
	identities := &cobra.Command{Use: "identities", Short: "Identidades aprovadas"}

	var roleFlag string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lista identidades aprovadas",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			var role *directory.Role
			if roleFlag != "" {
				parsed, ok := directory.ParseRole(roleFlag)
				if !ok {
					return fmt.Errorf("papel inválido: %s", roleFlag)
				}
				role = &parsed
			}
			list, err := a.workflow.ListApproved(ctx, role)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nenhuma identidade aprovada")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), list)
		}),
	}
	list.Flags().StringVar(&roleFlag, "role", "", "user, contractor ou admin")

	var deletedBy string
	remove := &cobra.Command{
		Use:   "delete <identity-id>",
		Short: "Remove uma identidade aprovada",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			removed, err := a.workflow.DeleteApprovedIdentity(ctx, args[0], deletedBy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), removed)
		}),
	}
	remove.Flags().StringVar(&deletedBy, "by", defaultOperator(), "e-mail registrado no log")

	identities.AddCommand(list, remove)
	return identities
}

func newIssuesCmd() *cobra.Command {
	issuesCmd := &cobra.Command{Use: "issues", Short: "Chamados"}

	autoAssign := &cobra.Command{
		Use:   "auto-assign",
		Short: "Atribui todos os chamados abertos sem prestador",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			report, err := a.policy.AutoAssignAll(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Resumo dos chamados por status",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			stats, err := a.issues.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}

	issuesCmd.AddCommand(autoAssign, stats)
	return issuesCmd
}

func newCategoriesCmd() *cobra.Command {
	categories := &cobra.Command{Use: "categories", Short: "Catálogo de especialidades"}

	validate := &cobra.Command{
		Use:   "validate [arquivo]",
		Short: "Valida um arquivo de categorias (YAML ou JSON); sem arquivo mostra o catálogo padrão",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			list, err := config.LoadCategories(path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	categories.AddCommand(validate)
	return categories
}
