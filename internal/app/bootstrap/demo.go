package bootstrap

import "github.com/wolfman30/restaurant-chatbot/internal/catalog"

// DemoRestaurantID is served by the in-memory catalog.
const DemoRestaurantID = "demo"

// DemoCatalog returns a small Hanoi menu for local development.
func DemoCatalog() *catalog.MemorySource {
	src := catalog.NewMemorySource()
	src.PutRestaurant(catalog.RestaurantContext{
		ID:               DemoRestaurantID,
		Name:             "Quán Phở Demo",
		Hours:            "7:00 - 22:00 daily",
		Address:          "36 Hàng Bạc, Hoàn Kiếm",
		City:             "Hanoi",
		Phone:            "+84 24 3826 0000",
		Rating:           4.6,
		DeliveryFee:      15000,
		DeliveryRadiusKm: 5,
		PaymentMethods:   []string{"cash", "card", "momo"},
	},
		catalog.Dish{ID: "pho-bo", Name: "Phở Bò", Description: "Beef noodle soup with slow-simmered broth", Category: "Noodles", Price: 65000, Rating: 4.8, ReviewCount: 320, IsFeatured: true, IsAvailable: true},
		catalog.Dish{ID: "bun-bo-hue", Name: "Bún Bò Huế", Description: "Spicy lemongrass beef noodle soup", Category: "Noodles", Price: 75000, Rating: 4.7, ReviewCount: 180, IsSpicy: true, IsAvailable: true},
		catalog.Dish{ID: "bun-cha", Name: "Bún Chả", Description: "Grilled pork with vermicelli and herbs", Category: "Lunch", Price: 70000, Rating: 4.6, ReviewCount: 210, IsFeatured: true, IsAvailable: true},
		catalog.Dish{ID: "dau-sot-ca", Name: "Đậu Sốt Cà Chua", Description: "Fried tofu in tomato sauce", Category: "Mains", Price: 55000, Rating: 4.3, ReviewCount: 45, IsVegetarian: true, IsAvailable: true},
		catalog.Dish{ID: "goi-cuon-chay", Name: "Gỏi Cuốn Chay", Description: "Fresh vegetarian spring rolls", Category: "Starters", Price: 45000, Rating: 4.4, ReviewCount: 60, IsVegetarian: true, IsAvailable: true},
		catalog.Dish{ID: "che-ba-mau", Name: "Chè Ba Màu", Description: "Three-colour iced dessert", Category: "Desserts", Price: 30000, Rating: 4.2, ReviewCount: 25, IsVegetarian: true, IsAvailable: true},
		catalog.Dish{ID: "lau-thai", Name: "Lẩu Thái", Description: "Spicy Thai hot pot for two", Category: "Dinner", Price: 250000, Rating: 4.5, ReviewCount: 90, IsSpicy: true, IsAvailable: false},
	)
	return src
}
