package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/transcript"
)

var (
	searchUser       string
	searchK          int
	searchText       []string
	searchEmbeddings []string
	searchWithVector bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Rank a user's segments against text and embedding queries",
	Long: `Each --text query is embedded with the configured provider. Each --embedding
is a JSON array of numbers used as given. One ranked row of up to k segments
is printed per query.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchUser, "user", "u", "", "corpus owner (default anonymous)")
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 0, "matches per query (default search.defaultK)")
	searchCmd.Flags().StringArrayVarP(&searchText, "text", "t", nil, "text query, repeatable")
	searchCmd.Flags().StringArrayVarP(&searchEmbeddings, "embedding", "e", nil, "raw embedding query, repeatable")
	searchCmd.Flags().BoolVar(&searchWithVector, "embeddings", false, "include segment embeddings in the output")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	k := searchK
	if k == 0 {
		k = cfg.Search.DefaultK
	}
	k = min(k, cfg.Search.MaxK)

	vectors := make([][]float32, 0, len(searchEmbeddings))
	for i, raw := range searchEmbeddings {
		v, err := parseEmbedding(raw)
		if err != nil {
			return fmt.Errorf("--embedding %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := bootstrap.Embedder(cfg.Embedding, nil)
	if err != nil {
		return err
	}
	engine := searcher.NewEngine(store.Segments(), embedder, nil)

	res, err := engine.Search(cmd.Context(), searcher.Request{
		User:              userOrAnonymous(searchUser),
		K:                 k,
		Text:              searchText,
		Embeddings:        vectors,
		ExcludeEmbeddings: !searchWithVector,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func parseEmbedding(raw string) ([]float32, error) {
	v, err := transcript.DecodeEmbedding(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	return v, nil
}
