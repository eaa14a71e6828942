package chessdto

import "github.com/park285/Cheese-Relay-Chess/internal/rating"

type ProfileView struct {
	Identity    string `json:"identity"`
	Name        string `json:"name"`
	Picture     string `json:"picture,omitempty"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
}

func NewProfileView(p rating.Profile) ProfileView {
	return ProfileView{
		Identity:    p.Identity,
		Name:        p.Name,
		Picture:     p.Picture,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
	}
}
