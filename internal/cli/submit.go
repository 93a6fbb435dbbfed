package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewSubmitCmd создаёт группу команд для отправки форм и сообщений чата.
func NewSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit forms and chat messages",
	}

	cmd.AddCommand(
		newSubmitKindCmd("form", "Submit a form", clientFn, outputFn),
		newSubmitKindCmd("chat", "Send a chat message", clientFn, outputFn),
		newDescribeCmd(clientFn, outputFn),
	)

	return cmd
}

func newSubmitKindCmd(kind, short string, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var data string
	var file string
	var message string
	var timeout int

	cmd := &cobra.Command{
		Use:   kind + " FLOW_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			payload, err := submitPayload(data, file, message)
			if err != nil {
				return err
			}

			result, err := client.Submit(kind, args[0], payload, time.Duration(timeout)*time.Second)
			if err != nil {
				return err
			}

			out.Success("HTTP " + strconv.Itoa(result.StatusCode))
			out.Raw(result.Body)
			return nil
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Payload as JSON object")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to JSON payload file")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Seconds to wait for the run response (0 = server default)")
	if kind == "chat" {
		cmd.Flags().StringVarP(&message, "message", "m", "", "Chat message text")
	}

	return cmd
}

func newDescribeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "describe form|chat FLOW_ID",
		Short: "Show form or chat definition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if args[0] != "form" && args[0] != "chat" {
				return fmt.Errorf("unknown kind %q: expected form or chat", args[0])
			}

			desc, err := client.Describe(args[0], args[1])
			if err != nil {
				return err
			}

			out.JSON(desc)
			return nil
		},
	}
}

// submitPayload собирает тело запроса из флагов.
// Приоритет: --data, затем --file, затем --message.
func submitPayload(data, file, message string) (json.RawMessage, error) {
	switch {
	case data != "":
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("--data must be valid JSON")
		}
		return json.RawMessage(data), nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("payload file %s is not valid JSON", file)
		}
		return raw, nil
	case message != "":
		return json.Marshal(map[string]string{"message": message})
	default:
		return json.RawMessage("{}"), nil
	}
}
