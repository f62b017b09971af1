package geo

// builtinAirports 是内置的常用机场坐标表。
var builtinAirports = []Airport{
	{Code: "FRA", Name: "Frankfurt am Main", City: "Frankfurt", Lat: 50.0333, Lon: 8.5706},
	{Code: "HHN", Name: "Frankfurt-Hahn", City: "Hahn", Lat: 49.9487, Lon: 7.2639},
	{Code: "MUC", Name: "Munich", City: "Munich", Lat: 48.3538, Lon: 11.7861},
	{Code: "NUE", Name: "Nuremberg", City: "Nuremberg", Lat: 49.4987, Lon: 11.0669},
	{Code: "STR", Name: "Stuttgart", City: "Stuttgart", Lat: 48.6899, Lon: 9.2220},
	{Code: "CGN", Name: "Cologne Bonn", City: "Cologne", Lat: 50.8659, Lon: 7.1427},
	{Code: "DUS", Name: "Düsseldorf", City: "Düsseldorf", Lat: 51.2895, Lon: 6.7668},
	{Code: "BER", Name: "Berlin Brandenburg", City: "Berlin", Lat: 52.3667, Lon: 13.5033},
	{Code: "HAM", Name: "Hamburg", City: "Hamburg", Lat: 53.6304, Lon: 9.9882},
	{Code: "AMS", Name: "Amsterdam Schiphol", City: "Amsterdam", Lat: 52.3105, Lon: 4.7683},
	{Code: "BRU", Name: "Brussels", City: "Brussels", Lat: 50.9010, Lon: 4.4844},
	{Code: "CDG", Name: "Paris Charles de Gaulle", City: "Paris", Lat: 49.0097, Lon: 2.5479},
	{Code: "ORY", Name: "Paris Orly", City: "Paris", Lat: 48.7262, Lon: 2.3652},
	{Code: "LHR", Name: "London Heathrow", City: "London", Lat: 51.4700, Lon: -0.4543},
	{Code: "LGW", Name: "London Gatwick", City: "London", Lat: 51.1537, Lon: -0.1821},
	{Code: "ZRH", Name: "Zurich", City: "Zurich", Lat: 47.4582, Lon: 8.5555},
	{Code: "VIE", Name: "Vienna", City: "Vienna", Lat: 48.1103, Lon: 16.5697},
	{Code: "MAD", Name: "Madrid Barajas", City: "Madrid", Lat: 40.4983, Lon: -3.5676},
	{Code: "BCN", Name: "Barcelona El Prat", City: "Barcelona", Lat: 41.2974, Lon: 2.0833},
	{Code: "FCO", Name: "Rome Fiumicino", City: "Rome", Lat: 41.8003, Lon: 12.2389},
	{Code: "LIS", Name: "Lisbon", City: "Lisbon", Lat: 38.7742, Lon: -9.1342},
	{Code: "JFK", Name: "New York John F. Kennedy", City: "New York", Lat: 40.6413, Lon: -73.7781},
	{Code: "EWR", Name: "Newark Liberty", City: "New York", Lat: 40.6895, Lon: -74.1745},
	{Code: "LGA", Name: "New York LaGuardia", City: "New York", Lat: 40.7769, Lon: -73.8740},
	{Code: "BOS", Name: "Boston Logan", City: "Boston", Lat: 42.3656, Lon: -71.0096},
	{Code: "LAX", Name: "Los Angeles", City: "Los Angeles", Lat: 33.9416, Lon: -118.4085},
	{Code: "SFO", Name: "San Francisco", City: "San Francisco", Lat: 37.6213, Lon: -122.3790},
	{Code: "MIA", Name: "Miami", City: "Miami", Lat: 25.7959, Lon: -80.2870},
	{Code: "BKK", Name: "Bangkok Suvarnabhumi", City: "Bangkok", Lat: 13.6900, Lon: 100.7501},
	{Code: "NRT", Name: "Tokyo Narita", City: "Tokyo", Lat: 35.7720, Lon: 140.3929},
	{Code: "HND", Name: "Tokyo Haneda", City: "Tokyo", Lat: 35.5494, Lon: 139.7798},
	{Code: "SIN", Name: "Singapore Changi", City: "Singapore", Lat: 1.3644, Lon: 103.9915},
	{Code: "DXB", Name: "Dubai", City: "Dubai", Lat: 25.2532, Lon: 55.3657},
}
