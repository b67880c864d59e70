package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"petsim/internal/pet"
	"petsim/internal/petservice"
)

func newPetsCmd(a *app) *cobra.Command {
	pets := &cobra.Command{
		Use:   "pets",
		Short: "Owner-side pet operations",
	}
	var owner int64
	pets.PersistentFlags().Int64Var(&owner, "owner", 0, "owner id the pet belongs to (required)")
	_ = pets.MarkPersistentFlagRequired("owner")

	pets.AddCommand(
		&cobra.Command{
			Use:   "search [pet_id]",
			Short: "Start searching for a lost pet",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withPets(cmd, args[0], func(svc *petservice.Service, id int64) error {
					p, err := svc.StartSearch(cmd.Context(), id, owner)
					if err != nil {
						return err
					}
					cmd.Printf("search started for %s, come back after %s\n",
						p.Name, formatTime(ptr(p.SearchStartedAt.Add(pet.SearchDuration))))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "restore [pet_id]",
			Short: "Resolve the search for a lost pet",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				format, err := a.output()
				if err != nil {
					return err
				}
				return a.withPets(cmd, args[0], func(svc *petservice.Service, id int64) error {
					res, _, err := svc.Restore(cmd.Context(), id, owner)
					if err != nil {
						return err
					}
					out := restoreOutput{Outcome: res.Outcome.String(), Message: res.Message()}
					if res.Outcome == pet.RestorePending {
						out.Remaining = res.Remaining.Round(time.Second).String()
					}
					return render(cmd.OutOrStdout(), format, out, func(w io.Writer) { fmt.Fprintln(w, out.Message) })
				})
			},
		},
	)
	return pets
}

type restoreOutput struct {
	Outcome   string `json:"outcome" yaml:"outcome"`
	Message   string `json:"message" yaml:"message"`
	Remaining string `json:"remaining,omitempty" yaml:"remaining,omitempty"`
}

func (a *app) withPets(cmd *cobra.Command, rawID string, fn func(svc *petservice.Service, id int64) error) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid pet id %q", rawID)
	}
	st, cfg, err := a.backend(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(petservice.New(st, a.logger(cmd, cfg)), id)
}

// render writes v in the requested format; table output is delegated.
func render(w io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		table(w)
		return nil
	}
}

func ptr[T any](v T) *T { return &v }
