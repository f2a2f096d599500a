package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
)

// PromptResponse holds the rendered prompt base.
type PromptResponse struct {
	CharLimit  int    `json:"char_limit"`
	PromptBase string `json:"prompt_base"`
}

// PromptEndpoint handles POST /api/prompt.
type PromptEndpoint struct{}

func (e *PromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/prompt", e.handler
}

func (e *PromptEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Render the prompt base for a run config
//	@Tags		examples
//	@Accept		json
//	@Produce	json
//	@Param		request	body		pipeline.Config	true	"Run config"
//	@Success	200		{object}	PromptResponse
//	@Failure	400		{object}	ErrorResponse
//	@Router		/api/prompt [post]
func (e *PromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var cfg pipeline.Config
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PromptResponse{CharLimit: cfg.EffectiveCharLimit(), PromptBase: cfg.PromptBase()})
}

func (e *PromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "prompt <dataset> <table>",
		Short: "Render the prompt base the batch jobs will use",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(args[0], args[1])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp PromptResponse
			if err := client.Post(cmd.Context(), "/api/prompt", cfg, &resp); err != nil {
				return err
			}
			if api.GetOutputFormat() == api.OutputFormatJSON {
				return api.Output(resp)
			}
			_, err = cmd.OutOrStdout().Write([]byte(resp.PromptBase))
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
